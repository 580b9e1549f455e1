package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dndchat/lmchat/internal/frame"
	"github.com/dndchat/lmchat/internal/models"
)

const maxSubmitBytes = 16 << 20

// streamErrorPrefix starts the text of the frame that reports a failed or broken upstream
// connection. upstreamStatusPrefix starts the one for a non-success answer from the model server.
const (
	streamErrorPrefix    = "An error occurred during the stream: "
	upstreamStatusPrefix = "Failed to send data: "
)

// turn is one validated chat request, ready to be sent upstream.
type turn struct {
	sessionID string
	persona   models.Persona
	model     string
	messages  []models.Message
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

// HandleListModels returns the model ids the upstream server offers as a JSON array.
func (m Main) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids, err := m.llm.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// HandleSubmit runs one chat turn and streams the reply as newline-delimited frames. The user
// entry is stored before the upstream call and the assistant entry once the reply ends. Once
// the stream has started every outcome ends with a frame marked complete.
func (m Main) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := session(w, r)
	if !m.limiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req models.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		m.logger.Error("Invalid submit body", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := m.prepareTurn(r.Context(), sessionID, req)
	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			writeError(w, reqErr.status, reqErr.msg)
			return
		}
		m.logger.Error("Failed to prepare turn", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", frame.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	enc := frame.NewEncoder(w)
	if err := m.streamReply(r.Context(), t, enc.Encode); err != nil {
		m.logger.Warn("Reply ended early", slog.String(errLoggerKey, err.Error()))
	}
}

// prepareTurn validates req, resolves the persona and model, loads the recent history and stores
// the user entry. Validation failures are returned as *requestError.
func (m Main) prepareTurn(ctx context.Context, sessionID string, req models.SubmitRequest) (turn, error) {
	if req.Empty() {
		return turn{}, &requestError{status: http.StatusBadRequest, msg: "chat_input or file_upload is required"}
	}

	persona, err := m.activePersona(ctx, sessionID)
	if err != nil {
		return turn{}, err
	}

	model := req.Model
	if model == "" {
		model = persona.DefaultModel
	}
	if model == "" {
		return turn{}, &requestError{status: http.StatusBadRequest, msg: "model is required"}
	}

	history, err := m.store.History(ctx, sessionID, persona.Name, m.cfg.HistoryWindow)
	if err != nil {
		return turn{}, fmt.Errorf("failed to get history: %w", err)
	}

	prompt := req.Prompt()
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: persona.SystemPrompt})
	for _, e := range history {
		messages = append(messages, models.Message{Role: e.Role(), Content: e.Content})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})

	if _, err := m.store.SaveEntry(ctx, models.Entry{
		SessionID:   sessionID,
		PersonaName: persona.Name,
		Sender:      models.SenderUser,
		Content:     prompt,
	}); err != nil {
		return turn{}, fmt.Errorf("failed to save user entry: %w", err)
	}

	return turn{
		sessionID: sessionID,
		persona:   persona,
		model:     model,
		messages:  messages,
	}, nil
}

// streamReply forwards the upstream reply of t to emit, one frame per fragment, then a final
// complete frame. An upstream failure is reported to the client as a complete System frame. The
// returned error is the upstream or emit failure, if any.
func (m Main) streamReply(ctx context.Context, t turn, emit func(frame.Frame) error) error {
	start := time.Now()
	logger := m.logger.With(
		slog.String("persona", t.persona.Name),
		slog.String("model", t.model),
	)

	var sb strings.Builder
	frames := 0
	send := func(f frame.Frame) error {
		if err := emit(f); err != nil {
			return err
		}
		frames++
		framesSent.Inc()
		return nil
	}

	var streamErr error
	for delta, err := range m.llm.Chat(ctx, t.model, t.messages) {
		if err != nil {
			streamErr = err
			break
		}
		if delta.Text != "" {
			sb.WriteString(delta.Text)
			if err := send(frame.Frame{Role: roleLabel(delta.Role), Text: delta.Text}); err != nil {
				m.saveReply(ctx, t, sb.String())
				repliesTotal.WithLabelValues(outcomeCancelled).Inc()
				return fmt.Errorf("failed to send frame: %w", err)
			}
		}
		if delta.Done {
			break
		}
	}

	if streamErr != nil {
		logger.Error("Error from llm provider", slog.String(errLoggerKey, streamErr.Error()))
		repliesTotal.WithLabelValues(outcomeError).Inc()
		m.saveReply(ctx, t, sb.String())
		_ = send(frame.Frame{Role: "System", Text: failureText(streamErr), Complete: true})
		return streamErr
	}
	if err := ctx.Err(); err != nil {
		repliesTotal.WithLabelValues(outcomeCancelled).Inc()
		m.saveReply(ctx, t, sb.String())
		return err
	}

	m.saveReply(ctx, t, sb.String())
	if err := send(frame.Frame{Role: roleLabel(models.RoleAssistant), Complete: true}); err != nil {
		repliesTotal.WithLabelValues(outcomeCancelled).Inc()
		return fmt.Errorf("failed to send final frame: %w", err)
	}
	repliesTotal.WithLabelValues(outcomeOK).Inc()

	logger.Debug("Reply streamed",
		slog.Int("frames", frames),
		slog.Int("chars", utf8.RuneCountInString(sb.String())),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// saveReply stores the assistant text, even when the client has gone away.
func (m Main) saveReply(ctx context.Context, t turn, text string) {
	if text == "" {
		return
	}
	if _, err := m.store.SaveEntry(context.WithoutCancel(ctx), models.Entry{
		SessionID:   t.sessionID,
		PersonaName: t.persona.Name,
		Sender:      models.SenderLLM,
		Content:     text,
	}); err != nil {
		m.logger.Error("Failed to save reply", slog.String(errLoggerKey, err.Error()))
	}
}

// roleLabel is the display form of an upstream role: "assistant" becomes "Assistant".
// failureText is the text of the System frame that ends a failed reply.
func failureText(err error) string {
	var upErr *models.UpstreamError
	if errors.As(err, &upErr) {
		return fmt.Sprintf("%s%d - %s", upstreamStatusPrefix, upErr.StatusCode, upErr.Body)
	}
	return streamErrorPrefix + err.Error()
}

func roleLabel(role models.Role) string {
	if role == "" {
		role = models.RoleAssistant
	}
	r, size := utf8.DecodeRuneInString(string(role))
	return string(unicode.ToUpper(r)) + string(role)[size:]
}
