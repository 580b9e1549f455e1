package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dndchat/lmchat/internal/models"
)

type selectPersonaRequest struct {
	Persona string `json:"persona"`
}

type selectPersonaResponse struct {
	Message string                `json:"message"`
	Details models.PersonaDetails `json:"details"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type deletePersonaRequest struct {
	Name string `json:"name"`
}

// HandleListPersonas returns every persona, stored and built in, as a map from name to details.
func (m Main) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.SeedPersonas(r.Context()); err != nil {
		m.logger.Error("Failed to seed personas", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	personas, err := m.store.Personas(r.Context())
	if err != nil {
		m.logger.Error("Failed to list personas", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res := make(map[string]models.PersonaDetails, len(personas)+len(models.StaticPersonas))
	for _, p := range personas {
		res[p.Name] = p.Details()
	}
	for name, p := range models.StaticPersonas {
		res[name] = p.Details()
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSelectPersona makes the named persona the session's active one and leaves custom mode.
func (m Main) HandleSelectPersona(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := session(w, r)

	var req selectPersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Persona) == "" {
		writeError(w, http.StatusBadRequest, "Persona name is required")
		return
	}

	p, ok := models.StaticPersonas[req.Persona]
	if !ok {
		var err error
		p, err = m.store.Persona(r.Context(), req.Persona)
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Persona '%s' not found", req.Persona))
			return
		}
		if err != nil {
			m.logger.Error("Failed to get persona", slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	settings := models.SessionSettings{SessionID: sessionID, SelectedPersona: p.Name}
	if err := m.store.SaveSessionSettings(r.Context(), settings); err != nil {
		m.logger.Error("Failed to save session settings", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, selectPersonaResponse{
		Message: fmt.Sprintf("Persona '%s' selected", p.Name),
		Details: p.Details(),
	})
}

// HandleCreatePersona stores a persona, replacing one with the same name. Built-in personas
// cannot be overwritten.
func (m Main) HandleCreatePersona(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p models.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || p.DefaultModel == "" || p.SystemPrompt == "" {
		writeError(w, http.StatusBadRequest, "name, model and prompt are required")
		return
	}
	if models.IsStatic(p.Name) || p.Name == CustomPersonaName {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Persona '%s' is reserved", p.Name))
		return
	}

	if err := m.store.UpsertPersona(r.Context(), p); err != nil {
		m.logger.Error("Failed to save persona", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Persona '%s' saved", p.Name)})
}

// HandleDeletePersona removes a stored persona.
func (m Main) HandleDeletePersona(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deletePersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Persona name is required")
		return
	}
	if models.IsStatic(req.Name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Persona '%s' cannot be deleted", req.Name))
		return
	}

	err := m.store.DeletePersona(r.Context(), req.Name)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Persona '%s' not found", req.Name))
		return
	}
	if err != nil {
		m.logger.Error("Failed to delete persona", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Persona '%s' deleted", req.Name)})
}
