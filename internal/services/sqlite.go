package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dndchat/lmchat/internal/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLite implements the Store interface on a SQLite database.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS personas (
	name          TEXT PRIMARY KEY,
	default_model TEXT NOT NULL,
	system_prompt TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id                   TEXT PRIMARY KEY,
	session_id           TEXT NOT NULL,
	persona_name         TEXT NOT NULL,
	message_time         INTEGER NOT NULL,
	conversation_sender  TEXT NOT NULL,
	conversation_content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session_persona
	ON conversations (session_id, persona_name, id);
CREATE TABLE IF NOT EXISTS session_settings (
	session_id                TEXT PRIMARY KEY,
	selected_persona_name     TEXT,
	custom_mode_model         TEXT NOT NULL DEFAULT '',
	custom_mode_system_prompt TEXT NOT NULL DEFAULT ''
);
`

// NewSQLite opens (or creates) the database at path, applies pragmas and creates the tables.
func NewSQLite(path string) (SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return SQLite{}, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return SQLite{}, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return SQLite{}, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return SQLite{}, fmt.Errorf("create schema: %w", err)
	}

	return SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s SQLite) Close() error {
	return s.db.Close()
}

// Personas returns every stored persona ordered by name.
func (s SQLite) Personas(ctx context.Context) ([]models.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, default_model, system_prompt FROM personas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var personas []models.Persona
	for rows.Next() {
		var p models.Persona
		if err := rows.Scan(&p.Name, &p.DefaultModel, &p.SystemPrompt); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// Persona returns the persona called name, or models.ErrNotFound.
func (s SQLite) Persona(ctx context.Context, name string) (models.Persona, error) {
	p := models.Persona{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT default_model, system_prompt FROM personas WHERE name = ?`, name,
	).Scan(&p.DefaultModel, &p.SystemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Persona{}, fmt.Errorf("persona %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return models.Persona{}, fmt.Errorf("query persona: %w", err)
	}
	return p, nil
}

// UpsertPersona stores p, replacing any persona with the same name.
func (s SQLite) UpsertPersona(ctx context.Context, p models.Persona) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (name, default_model, system_prompt) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			default_model = excluded.default_model,
			system_prompt = excluded.system_prompt`,
		p.Name, p.DefaultModel, p.SystemPrompt)
	if err != nil {
		return fmt.Errorf("upsert persona: %w", err)
	}
	return nil
}

// DeletePersona removes the persona called name, or returns models.ErrNotFound.
func (s SQLite) DeletePersona(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("persona %q: %w", name, models.ErrNotFound)
	}
	return nil
}

// SaveEntry appends e to its conversation and returns it with id and time filled in.
func (s SQLite) SaveEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	e = prepareEntry(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, session_id, persona_name, message_time, conversation_sender, conversation_content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.PersonaName, e.MessageTime.UnixMilli(), string(e.Sender), e.Content)
	if err != nil {
		return models.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// History returns the last limit entries of the conversation between sessionID and persona in
// message-time order. A limit of zero or less returns the whole conversation.
func (s SQLite) History(ctx context.Context, sessionID, persona string, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_time, conversation_sender, conversation_content
		FROM conversations
		WHERE session_id = ? AND persona_name = ?
		ORDER BY id DESC
		LIMIT ?`,
		sessionID, persona, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e := models.Entry{SessionID: sessionID, PersonaName: persona}
		var ms int64
		var sender string
		if err := rows.Scan(&e.ID, &ms, &sender, &e.Content); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.MessageTime = time.UnixMilli(ms).UTC()
		e.Sender = models.Sender(sender)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

// SessionSettings returns the stored settings of sessionID. A session without settings gets
// the zero value.
func (s SQLite) SessionSettings(ctx context.Context, sessionID string) (models.SessionSettings, error) {
	settings := models.SessionSettings{SessionID: sessionID}
	var selected sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT selected_persona_name, custom_mode_model, custom_mode_system_prompt
		FROM session_settings WHERE session_id = ?`, sessionID,
	).Scan(&selected, &settings.CustomModel, &settings.CustomSystemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return models.SessionSettings{}, fmt.Errorf("query session settings: %w", err)
	}
	settings.SelectedPersona = selected.String
	return settings, nil
}

// SaveSessionSettings stores settings under its session id.
func (s SQLite) SaveSessionSettings(ctx context.Context, settings models.SessionSettings) error {
	if settings.SessionID == "" {
		return errors.New("session id is required")
	}
	selected := sql.NullString{String: settings.SelectedPersona, Valid: settings.SelectedPersona != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_settings
			(session_id, selected_persona_name, custom_mode_model, custom_mode_system_prompt)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			selected_persona_name = excluded.selected_persona_name,
			custom_mode_model = excluded.custom_mode_model,
			custom_mode_system_prompt = excluded.custom_mode_system_prompt`,
		settings.SessionID, selected, settings.CustomModel, settings.CustomSystemPrompt)
	if err != nil {
		return fmt.Errorf("upsert session settings: %w", err)
	}
	return nil
}
