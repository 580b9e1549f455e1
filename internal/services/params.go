package services

// LLMParameters are the sampling options passed to every chat request. Nil fields are left to the
// upstream server's defaults.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"maxTokens"`
	TopP        *float32 `yaml:"topP"`
	Stop        []string `yaml:"stop"`
	Seed        *int     `yaml:"seed"`
}

// DefaultTemperature and DefaultMaxTokens match what the chat page has always sent. A negative
// max tokens value lets the server generate until the model stops.
const (
	DefaultTemperature float32 = 0.7
	DefaultMaxTokens   int     = -1
)

// WithDefaults fills unset temperature and max tokens.
func (p LLMParameters) WithDefaults() LLMParameters {
	if p.Temperature == nil {
		t := DefaultTemperature
		p.Temperature = &t
	}
	if p.MaxTokens == nil {
		n := DefaultMaxTokens
		p.MaxTokens = &n
	}
	return p
}

// ollamaOptions maps the parameters to Ollama's option names.
func (p LLMParameters) ollamaOptions() map[string]any {
	opts := map[string]any{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	if p.Seed != nil {
		opts["seed"] = *p.Seed
	}
	return opts
}
