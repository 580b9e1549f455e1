package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/handlers"
	"github.com/dndchat/lmchat/internal/models"
)

func TestHandleWS(t *testing.T) {
	llm := &mockLLM{deltas: []models.Delta{{Text: "Roll "}, {Text: "a d20.", Done: true}}}
	main := newMain(t, llm, newMockStore(), handlers.Config{})

	srv := httptest.NewServer(handlers.Instrument(main.Routes(), discard))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	src := frame.NewChunkSource(frame.ChunkReaderFunc(func(ctx context.Context) ([]byte, error) {
		_, data, err := conn.Read(ctx)
		return data, err
	}))

	// Two turns on one connection, each ending with a complete frame.
	for i := range 2 {
		if err := wsjson.Write(ctx, conn, models.SubmitRequest{Model: "m", ChatInput: "help"}); err != nil {
			t.Fatalf("turn %d: Write() error = %v", i, err)
		}

		var last frame.Update
		for u, err := range frame.NewAssembler(src).Updates(ctx) {
			if err != nil {
				t.Fatalf("turn %d: reply error = %v", i, err)
			}
			last = u
		}
		if !last.Done || last.Text != "Roll a d20." || last.Role != "Assistant" {
			t.Errorf("turn %d: last update = %+v", i, last)
		}
	}

	if err := wsjson.Write(ctx, conn, models.SubmitRequest{Model: "m"}); err != nil {
		t.Fatal(err)
	}
	var rejected frame.Frame
	if err := wsjson.Read(ctx, conn, &rejected); err != nil {
		t.Fatal(err)
	}
	if rejected.Role != "System" || !rejected.Complete {
		t.Errorf("rejected frame = %+v, want a complete System frame", rejected)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestInstrumentKeepsStreaming(t *testing.T) {
	llm := &mockLLM{deltas: []models.Delta{{Text: "a"}, {Text: "b", Done: true}}}
	main := newMain(t, llm, newMockStore(), handlers.Config{})

	srv := httptest.NewServer(handlers.Instrument(main.Routes(), discard))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/submit", "application/json", strings.NewReader(`{"model":"m","chat_input":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(body), "\n"); got != 3 {
		t.Errorf("frames = %d, want 3 in %q", got, body)
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}
