package handlers

import (
	"log/slog"
	"net/http"
)

type homePageData struct {
	Persona  string
	Model    string
	Messages []message
}

// HandleHome renders the chat page with the session's conversation so far.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := session(w, r)

	persona, msgs, err := m.conversation(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to load conversation", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		Persona:  persona.Name,
		Model:    persona.DefaultModel,
		Messages: msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
