package client_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dndchat/lmchat/internal/client"
	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/handlers"
	"github.com/dndchat/lmchat/internal/models"
	"github.com/dndchat/lmchat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	deltas []models.Delta
	err    error
}

func (f fakeLLM) Chat(context.Context, string, []models.Message) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		for _, d := range f.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if f.err != nil {
			yield(models.Delta{}, f.err)
		}
	}
}

func (f fakeLLM) Models(context.Context) ([]string, error) {
	return []string{"llama-3.2-3b-instruct", "mistral-7b"}, nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T, llm handlers.LLM) *client.Client {
	t.Helper()

	store, err := services.NewBoltDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	main, err := handlers.NewMain(llm, store, discard, handlers.Config{})
	require.NoError(t, err)
	require.NoError(t, main.SeedPersonas(context.Background()))

	srv := httptest.NewServer(main.Routes())
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL+"/", client.WithLogger(discard))
	require.NoError(t, err)
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew(t *testing.T) {
	_, err := client.New("localhost:2345")
	assert.Error(t, err)

	_, err = client.New("ftp://localhost")
	assert.Error(t, err)

	_, err = client.New("http://localhost:2345", client.WithHTTPClient(&http.Client{}))
	assert.NoError(t, err)
}

func TestReply(t *testing.T) {
	llm := fakeLLM{deltas: []models.Delta{
		{Role: models.RoleAssistant, Text: "Begone, "},
		{Text: "mortal."},
		{Done: true},
	}}
	c := newServer(t, llm)
	ctx := testContext(t)

	var updates []frame.Update
	text, err := c.Reply(ctx, models.SubmitRequest{Model: "m", ChatInput: "Hello"}, func(u frame.Update) {
		updates = append(updates, u)
	})
	require.NoError(t, err)
	assert.Equal(t, "Begone, mortal.", text)

	require.Len(t, updates, 3)
	assert.Equal(t, "Begone, ", updates[0].Text)
	assert.False(t, updates[1].Done)
	assert.True(t, updates[2].Done)
	assert.Equal(t, "Assistant", updates[2].Role)

	h, err := c.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPersonaName, h.Persona)
	require.Len(t, h.Entries, 2)
	assert.Equal(t, "Hello", h.Entries[0].Content)
	assert.Equal(t, models.SenderLLM, h.Entries[1].Sender)
	assert.Equal(t, "Begone, mortal.", h.Entries[1].Content)
}

func TestReplyUpstreamFailure(t *testing.T) {
	c := newServer(t, fakeLLM{deltas: []models.Delta{{Text: "Beg"}}, err: errors.New("model unloaded")})

	var last frame.Update
	text, err := c.Reply(testContext(t), models.SubmitRequest{Model: "m", ChatInput: "Hello"}, func(u frame.Update) {
		last = u
	})
	require.NoError(t, err)
	assert.Equal(t, "BegAn error occurred during the stream: model unloaded", text)
	assert.Equal(t, "System", last.Role)
	assert.True(t, last.Done)
}

func TestReplyRejected(t *testing.T) {
	c := newServer(t, fakeLLM{})

	text, err := c.Reply(testContext(t), models.SubmitRequest{Model: "m"}, nil)
	assert.Empty(t, text)
	require.Error(t, err)
	assert.True(t, frame.IsTransport(err))

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSubmitLegacyStream(t *testing.T) {
	// A server that writes unseparated frames as plain text.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for _, f := range []string{
			`{"role_name":"Assistant","text_content":"Roll ","streaming_complete":false}`,
			`{"role_name":"Assistant","text_content":"initiative.","streaming_complete":true}`,
		} {
			_, _ = io.WriteString(w, f)
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithLogger(discard))
	require.NoError(t, err)

	text, err := client.Collect(c.Submit(testContext(t), models.SubmitRequest{Model: "m", ChatInput: "x"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "Roll initiative.", text)
}

func TestSubmitMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", frame.ContentType)
		_, _ = io.WriteString(w, "{\"role_name\":\"Assistant\",\"text_content\":\"Hi\",\"streaming_complete\":false}\n{oops\n")
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithLogger(discard))
	require.NoError(t, err)

	var seen []string
	text, err := client.Collect(c.Submit(testContext(t), models.SubmitRequest{Model: "m", ChatInput: "x"}), func(u frame.Update) {
		seen = append(seen, u.Text)
	})
	assert.Empty(t, text)
	assert.True(t, frame.IsMalformed(err))
	assert.Equal(t, []string{"Hi"}, seen)
}

func TestSubmitWS(t *testing.T) {
	c := newServer(t, fakeLLM{deltas: []models.Delta{{Text: "Natural "}, {Text: "twenty!", Done: true}}})
	ctx := testContext(t)

	for range 2 {
		text, err := client.Collect(c.SubmitWS(ctx, models.SubmitRequest{Model: "m", ChatInput: "roll"}), nil)
		require.NoError(t, err)
		assert.Equal(t, "Natural twenty!", text)
	}

	h, err := c.History(ctx)
	require.NoError(t, err)
	assert.Len(t, h.Entries, 4)
}

func TestPersonas(t *testing.T) {
	c := newServer(t, fakeLLM{})
	ctx := testContext(t)

	ids, err := c.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama-3.2-3b-instruct", "mistral-7b"}, ids)

	personas, err := c.Personas(ctx)
	require.NoError(t, err)
	assert.Contains(t, personas, models.DefaultPersonaName)
	assert.Contains(t, personas, "Helper")

	bard := models.Persona{Name: "Bard", DefaultModel: "mistral-7b", SystemPrompt: "You speak only in rhyme."}
	require.NoError(t, c.UpsertPersona(ctx, bard))

	details, err := c.SelectPersona(ctx, "Bard")
	require.NoError(t, err)
	assert.Equal(t, bard.Details(), details)

	h, err := c.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bard", h.Persona)
	assert.Empty(t, h.Entries)

	require.NoError(t, c.DeletePersona(ctx, "Bard"))

	_, err = c.SelectPersona(ctx, "Bard")
	assert.True(t, client.IsNotFound(err))
	assert.True(t, client.IsNotFound(c.DeletePersona(ctx, "Bard")))

	err = c.DeletePersona(ctx, "Helper")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSetCustomMode(t *testing.T) {
	c := newServer(t, fakeLLM{deltas: []models.Delta{{Text: "ok", Done: true}}})
	ctx := testContext(t)

	s, err := c.SetCustomMode(ctx, "mistral-7b", "Answer in one word.")
	require.NoError(t, err)
	assert.True(t, s.CustomMode)
	assert.Equal(t, "mistral-7b", s.Model)

	_, err = c.Reply(ctx, models.SubmitRequest{Model: "mistral-7b", ChatInput: "hi"}, nil)
	require.NoError(t, err)

	h, err := c.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, handlers.CustomPersonaName, h.Persona)
	assert.Len(t, h.Entries, 2)

	_, err = c.SetCustomMode(ctx, "", "")
	require.NoError(t, err)

	s, err = c.Session(ctx)
	require.NoError(t, err)
	assert.False(t, s.CustomMode)
	assert.Equal(t, models.DefaultPersonaName, s.Persona)
	assert.Equal(t, models.DefaultPersona.DefaultModel, s.Model)
}
