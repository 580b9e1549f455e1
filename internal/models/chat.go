package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a persona or conversation does not exist.
var ErrNotFound = errors.New("not found")

// UpstreamError is a non-success HTTP answer from the model server, as opposed to a connection
// that failed or broke mid-stream.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Role represents the role of a message participant as understood by the upstream model server.
type Role string

const (
	// RoleSystem carries the persona's system prompt. It is always the first message of a request.
	RoleSystem Role = "system"
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents a model reply.
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent upstream.
type Message struct {
	Role    Role
	Content string
}

// Delta is one fragment of a streamed upstream reply. Role is empty when the upstream does not
// repeat it, and Done is set on the last fragment.
type Delta struct {
	Role Role
	Text string
	Done bool
}

// Sender identifies who wrote a stored conversation entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderLLM  Sender = "llm"
)

// Entry is one stored turn of a conversation between a session and a persona.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PersonaName string    `json:"persona_name"`
	MessageTime time.Time `json:"message_time"`
	Sender      Sender    `json:"conversation_sender"`
	Content     string    `json:"conversation_content"`
}

// Role maps the sender to the upstream message role.
func (e Entry) Role() Role {
	if e.Sender == SenderLLM {
		return RoleAssistant
	}
	return RoleUser
}

// SessionSettings holds the per-session choices that used to be global server state.
type SessionSettings struct {
	SessionID          string `json:"session_id"`
	SelectedPersona    string `json:"selected_persona_name"`
	CustomModel        string `json:"custom_mode_model"`
	CustomSystemPrompt string `json:"custom_mode_system_prompt"`
}

// CustomMode reports whether the session overrides the persona with its own prompt.
func (s SessionSettings) CustomMode() bool {
	return s.CustomSystemPrompt != ""
}
