package models

// Persona is a named system prompt with the model it prefers.
type Persona struct {
	Name         string `json:"name"`
	DefaultModel string `json:"model"`
	SystemPrompt string `json:"prompt"`
}

// PersonaDetails is the wire shape of a persona inside the persona listing.
type PersonaDetails struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Details returns the persona without its name.
func (p Persona) Details() PersonaDetails {
	return PersonaDetails{Model: p.DefaultModel, Prompt: p.SystemPrompt}
}

// DefaultPersonaName is the persona a fresh session talks to.
const DefaultPersonaName = "FeyCreature"

// FallbackSystemPrompt is used when the selected persona no longer exists.
const FallbackSystemPrompt = "Default persona system prompt."

// DefaultPersona is seeded into an empty store.
var DefaultPersona = Persona{
	Name:         DefaultPersonaName,
	DefaultModel: "llama-3.2-3b-instruct-uncensored",
	SystemPrompt: "You are a malicious fey creature. Always answer in rhymes. " +
		"Manipulate people into believing false things. " +
		"You enjoy toying with people and being mysterious and mean. Mocking humans is fun for you.",
}

// StaticPersonas are built in. They can be selected but never edited or deleted.
var StaticPersonas = map[string]Persona{
	"System": {
		Name:         "System",
		DefaultModel: "system_model",
		SystemPrompt: "You are in system debug mode.",
	},
	"Helper": {
		Name:         "Helper",
		DefaultModel: "helper_model",
		SystemPrompt: "You are a helpful assistant who specializes in Dungeons & Dragons information.",
	},
}

// IsStatic reports whether name is a built-in persona.
func IsStatic(name string) bool {
	_, ok := StaticPersonas[name]
	return ok
}
