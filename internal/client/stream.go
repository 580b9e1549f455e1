package client

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/models"
)

// FailureNotice is what a user sees when a reply could not be assembled. The typed error is
// only logged.
const FailureNotice = "Failed to process streamed response."

// Submit sends one turn and yields the assembled reply after every frame. Any failure, from the
// request itself to a broken frame, ends the sequence with a *frame.Error.
func (c *Client) Submit(ctx context.Context, req models.SubmitRequest) iter.Seq2[frame.Update, error] {
	return func(yield func(frame.Update, error) bool) {
		resp, err := c.do(ctx, http.MethodPost, "/submit", req)
		if err != nil {
			yield(frame.Update{}, frame.NewError(frame.KindTransport, "submit", err))
			return
		}
		defer resp.Body.Close()

		src := frame.NewChunkSource(frame.ReaderChunks(resp.Body))
		if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == frame.ContentType {
			src = frame.NewStreamSource(resp.Body)
		}

		for u, err := range frame.NewAssembler(src).Updates(ctx) {
			if !yield(u, err) {
				return
			}
		}
	}
}

// SubmitWS sends one turn over a WebSocket connection, where every message is one frame.
func (c *Client) SubmitWS(ctx context.Context, req models.SubmitRequest) iter.Seq2[frame.Update, error] {
	return func(yield func(frame.Update, error) bool) {
		u := *c.baseURL
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		u.Path += "/ws"

		conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.http})
		if err != nil {
			yield(frame.Update{}, frame.NewError(frame.KindTransport, "dial", err))
			return
		}
		defer conn.CloseNow()

		if err := wsjson.Write(ctx, conn, req); err != nil {
			yield(frame.Update{}, frame.NewError(frame.KindTransport, "submit", err))
			return
		}

		src := frame.NewChunkSource(frame.ChunkReaderFunc(func(ctx context.Context) ([]byte, error) {
			_, data, err := conn.Read(ctx)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, io.EOF
			}
			return data, err
		}))

		for u, err := range frame.NewAssembler(src).Updates(ctx) {
			if !yield(u, err) {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Collect drains a reply sequence, calling render after every update, and returns the final
// text. On failure it returns an empty text: a partial reply is never shown as if it were whole.
func Collect(seq iter.Seq2[frame.Update, error], render func(frame.Update)) (string, error) {
	var last frame.Update
	for u, err := range seq {
		if err != nil {
			return "", err
		}
		last = u
		if render != nil {
			render(u)
		}
	}
	return last.Text, nil
}

// Reply submits one turn and returns the whole reply text. Failures other than cancellation
// are logged with their kind.
func (c *Client) Reply(ctx context.Context, req models.SubmitRequest, render func(frame.Update)) (string, error) {
	return c.reply(ctx, c.Submit(ctx, req), render)
}

// ReplyWS is Reply over a WebSocket.
func (c *Client) ReplyWS(ctx context.Context, req models.SubmitRequest, render func(frame.Update)) (string, error) {
	return c.reply(ctx, c.SubmitWS(ctx, req), render)
}

func (c *Client) reply(ctx context.Context, seq iter.Seq2[frame.Update, error], render func(frame.Update)) (string, error) {
	text, err := Collect(seq, render)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to process streamed response",
				slog.String("kind", frame.KindOf(err).String()), slog.String(errLoggerKey, err.Error()))
		}
		return "", err
	}
	return text, nil
}

const errLoggerKey = "err"
