package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/google/uuid"
)

const sessionCookie = "session_id"

// CustomPersonaName keys the conversation of a session in custom mode.
const CustomPersonaName = "Custom"

// session returns the caller's session id, issuing a new cookie when the request carries none
// or an invalid one. It must run before anything is written to w.
func session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// activePersona resolves the persona a session talks to. Custom mode wins over the selected
// persona; a selected persona that no longer exists falls back to a generic prompt.
func (m Main) activePersona(ctx context.Context, sessionID string) (models.Persona, error) {
	settings, err := m.store.SessionSettings(ctx, sessionID)
	if err != nil {
		return models.Persona{}, fmt.Errorf("failed to get session settings: %w", err)
	}
	if settings.CustomMode() {
		return models.Persona{
			Name:         CustomPersonaName,
			DefaultModel: settings.CustomModel,
			SystemPrompt: settings.CustomSystemPrompt,
		}, nil
	}

	name := settings.SelectedPersona
	if name == "" {
		name = m.cfg.DefaultPersona
	}
	if p, ok := models.StaticPersonas[name]; ok {
		return p, nil
	}

	p, err := m.store.Persona(ctx, name)
	if errors.Is(err, models.ErrNotFound) {
		m.logger.Warn("Selected persona not found, using fallback prompt",
			slog.String("persona", name))
		return models.Persona{Name: name, SystemPrompt: models.FallbackSystemPrompt}, nil
	}
	if err != nil {
		return models.Persona{}, fmt.Errorf("failed to get persona: %w", err)
	}
	return p, nil
}

type sessionRequest struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

type sessionResponse struct {
	Persona      string `json:"persona"`
	CustomMode   bool   `json:"custom_mode"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// HandleSession reports the session's active persona on GET. POST switches custom mode on with
// the given prompt and model, or off when the prompt is empty.
func (m Main) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := session(w, r)

	if r.Method == http.MethodPost {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		settings, err := m.store.SessionSettings(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to get session settings", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		settings.CustomModel = req.Model
		settings.CustomSystemPrompt = req.SystemPrompt
		if err := m.store.SaveSessionSettings(r.Context(), settings); err != nil {
			m.logger.Error("Failed to save session settings", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	p, err := m.activePersona(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to resolve persona", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Persona:      p.Name,
		CustomMode:   p.Name == CustomPersonaName,
		Model:        p.DefaultModel,
		SystemPrompt: p.SystemPrompt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
