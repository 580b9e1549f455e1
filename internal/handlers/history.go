package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dndchat/lmchat/internal/models"
)

// message is an entry prepared for display.
type message struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   template.HTML `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

type historyResponse struct {
	Persona string         `json:"persona"`
	Entries []models.Entry `json:"entries"`
}

type renderedHistoryResponse struct {
	Persona  string    `json:"persona"`
	Messages []message `json:"messages"`
}

// HandleHistory returns the session's conversation with its active persona. With format=html
// every entry's content is rendered from markdown.
func (m Main) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := session(w, r)

	persona, err := m.activePersona(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to resolve persona", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := m.store.History(r.Context(), sessionID, persona.Name, 0)
	if err != nil {
		m.logger.Error("Failed to get history", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "html" {
		msgs, err := renderEntries(entries)
		if err != nil {
			m.logger.Error("Failed to render history", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, renderedHistoryResponse{Persona: persona.Name, Messages: msgs})
		return
	}

	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Persona: persona.Name, Entries: entries})
}

func renderEntries(entries []models.Entry) ([]message, error) {
	msgs := make([]message, 0, len(entries))
	for _, e := range entries {
		content, err := models.RenderMarkdown(e.Content)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		msgs = append(msgs, message{
			ID:        e.ID,
			Role:      string(e.Role()),
			Content:   template.HTML(content), // raw HTML is dropped by the renderer
			Timestamp: e.MessageTime,
		})
	}
	return msgs, nil
}

// conversation loads and renders the whole conversation for the page.
func (m Main) conversation(ctx context.Context, sessionID string) (models.Persona, []message, error) {
	persona, err := m.activePersona(ctx, sessionID)
	if err != nil {
		return models.Persona{}, nil, err
	}
	entries, err := m.store.History(ctx, sessionID, persona.Name, 0)
	if err != nil {
		return models.Persona{}, nil, fmt.Errorf("failed to get history: %w", err)
	}
	msgs, err := renderEntries(entries)
	if err != nil {
		return models.Persona{}, nil, err
	}
	return persona, msgs, nil
}
