package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"

	lmchat "github.com/dndchat/lmchat"
	"github.com/dndchat/lmchat/internal/models"
)

// LLM represents a large language model server that provides chat functionality. Chat accepts a
// context, the model to use and the conversation, returning an iterator that yields reply
// fragments and potential errors. Models lists what the server can run.
type LLM interface {
	Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[models.Delta, error]
	Models(ctx context.Context) ([]string, error)
}

// Store defines the interface for persisting personas, conversations and per-session settings.
// Lookups of missing personas return models.ErrNotFound.
type Store interface {
	Personas(ctx context.Context) ([]models.Persona, error)
	Persona(ctx context.Context, name string) (models.Persona, error)
	UpsertPersona(ctx context.Context, p models.Persona) error
	DeletePersona(ctx context.Context, name string) error

	SaveEntry(ctx context.Context, e models.Entry) (models.Entry, error)
	History(ctx context.Context, sessionID, persona string, limit int) ([]models.Entry, error)

	SessionSettings(ctx context.Context, sessionID string) (models.SessionSettings, error)
	SaveSessionSettings(ctx context.Context, s models.SessionSettings) error
}

// Config tunes the chat handlers. Zero values select the defaults.
type Config struct {
	// DefaultPersona is the persona of a session that has not selected one.
	DefaultPersona string
	// HistoryWindow is how many stored entries are sent upstream with every turn.
	HistoryWindow int
	// RateLimit is the number of turns per second one client address may start. Zero disables
	// limiting.
	RateLimit float64
	RateBurst int
}

// DefaultHistoryWindow is used when Config.HistoryWindow is zero.
const DefaultHistoryWindow = 20

const errLoggerKey = "err"

// Main handles the core functionality of the chat application, managing the HTML templates and
// the interactions between the LLM and Store components.
type Main struct {
	templates *template.Template

	llm   LLM
	store Store

	cfg     Config
	limiter *clientLimiter

	logger *slog.Logger
}

// NewMain creates a new Main instance with the provided LLM and Store implementations and parses
// the HTML templates from the embedded filesystem.
func NewMain(llm LLM, store Store, logger *slog.Logger, cfg Config) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		lmchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultPersona == "" {
		cfg.DefaultPersona = models.DefaultPersonaName
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}

	return Main{
		templates: tmpl,
		llm:       llm,
		store:     store,
		cfg:       cfg,
		limiter:   newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

// Routes registers every chat endpoint on a new mux. Static files and metrics are mounted by
// the caller.
func (m Main) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", m.HandleHome)
	mux.HandleFunc("/list_models", m.HandleListModels)
	mux.HandleFunc("/submit", m.HandleSubmit)
	mux.HandleFunc("/ws", m.HandleWS)
	mux.HandleFunc("/list_personas", m.HandleListPersonas)
	mux.HandleFunc("/persona", m.HandleSelectPersona)
	mux.HandleFunc("/create_persona", m.HandleCreatePersona)
	mux.HandleFunc("/delete_persona", m.HandleDeletePersona)
	mux.HandleFunc("/history", m.HandleHistory)
	mux.HandleFunc("/session", m.HandleSession)
	return mux
}

// SeedPersonas stores the default persona when it is missing.
func (m Main) SeedPersonas(ctx context.Context) error {
	_, err := m.store.Persona(ctx, models.DefaultPersona.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up default persona: %w", err)
	}
	if err := m.store.UpsertPersona(ctx, models.DefaultPersona); err != nil {
		return fmt.Errorf("failed to seed default persona: %w", err)
	}
	m.logger.Info("Seeded default persona", slog.String("persona", models.DefaultPersona.Name))
	return nil
}
