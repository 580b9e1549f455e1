package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/models"
)

// HandleWS is the WebSocket form of HandleSubmit. Every text message from the client is one
// SubmitRequest; every reply frame is sent as its own message. Turns on a connection run one
// after another.
func (m Main) HandleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := session(w, r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Error("websocket accept failed", slog.String(errLoggerKey, err.Error()))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxSubmitBytes)

	ctx := r.Context()
	emit := func(f frame.Frame) error {
		return wsjson.Write(ctx, conn, f)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					m.logger.Warn("websocket read failed", slog.String(errLoggerKey, err.Error()))
				}
			}
			return
		}

		if err := m.wsTurn(ctx, sessionID, clientIP(r), data, emit); err != nil {
			m.logger.Warn("websocket turn ended early", slog.String(errLoggerKey, err.Error()))
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// wsTurn runs one turn. Problems with the request itself are answered with a complete System
// frame so the client's reply ends cleanly.
func (m Main) wsTurn(ctx context.Context, sessionID, client string, data []byte, emit func(frame.Frame) error) error {
	reject := func(msg string) error {
		return emit(frame.Frame{Role: "System", Text: msg, Complete: true})
	}

	if !m.limiter.allow(client) {
		return reject("Too many requests")
	}

	var req models.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return reject("Invalid request body")
	}

	t, err := m.prepareTurn(ctx, sessionID, req)
	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return reject(reqErr.msg)
		}
		m.logger.Error("Failed to prepare turn", slog.String(errLoggerKey, err.Error()))
		return reject(streamErrorPrefix + err.Error())
	}

	return m.streamReply(ctx, t, emit)
}
