package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dndchat/lmchat/internal/handlers"
	"github.com/dndchat/lmchat/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type storeConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type config struct {
	Addr           string      `yaml:"addr"`
	LogLevel       string      `yaml:"logLevel"`
	LogFormat      string      `yaml:"logFormat"`
	DefaultPersona string      `yaml:"defaultPersona"`
	HistoryWindow  int         `yaml:"historyWindow"`
	RateLimit      float64     `yaml:"rateLimit"`
	RateBurst      int         `yaml:"rateBurst"`
	Store          storeConfig `yaml:"store"`
	LLM            llmConfig   `yaml:"llm"`
}

// openAIConfig talks to any OpenAI compatible server. LM Studio is the default.
type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

// compatConfig reads the raw server-sent events of a chat completions endpoint, for servers
// the OpenAI SDK does not get along with.
type compatConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

const (
	defaultAddr        = ":2345"
	defaultStoreDriver = "bolt"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Addr           string         `yaml:"addr"`
		LogLevel       string         `yaml:"logLevel"`
		LogFormat      string         `yaml:"logFormat"`
		DefaultPersona string         `yaml:"defaultPersona"`
		HistoryWindow  int            `yaml:"historyWindow"`
		RateLimit      float64        `yaml:"rateLimit"`
		RateBurst      int            `yaml:"rateBurst"`
		Store          storeConfig    `yaml:"store"`
		LLM            map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Addr = rawConfig.Addr
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.DefaultPersona = rawConfig.DefaultPersona
	c.HistoryWindow = rawConfig.HistoryWindow
	c.RateLimit = rawConfig.RateLimit
	c.RateBurst = rawConfig.RateBurst
	c.Store = rawConfig.Store

	llmProvider := "openai"
	if rawConfig.LLM != nil {
		p, ok := rawConfig.LLM["provider"].(string)
		if !ok {
			return fmt.Errorf("llm provider is required")
		}
		llmProvider = p
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai", "lmstudio":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "compat":
		llm = &compatConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if rawConfig.LLM != nil {
		if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
			return err
		}
	}

	c.LLM = llm
	return nil
}

// defaultConfig is used when no config file exists: LM Studio on its default port.
func defaultConfig() config {
	return config{LLM: &openAIConfig{}}
}

func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if err == io.EOF {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error decoding config: %w", err)
	}
	return cfg, nil
}

// withDefaults fills zero values, reading LMCHAT_ADDR before the built-in address.
func (c config) withDefaults(dataDir string) config {
	if c.Addr == "" {
		c.Addr = os.Getenv("LMCHAT_ADDR")
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if c.Store.Path == "" {
		name := "store.db"
		if c.Store.Driver == "sqlite" {
			name = "store.sqlite"
		}
		c.Store.Path = filepath.Join(dataDir, name)
	}
	if c.LLM == nil {
		c.LLM = &openAIConfig{}
	}
	return c
}

func (c config) handlersConfig() handlers.Config {
	return handlers.Config{
		DefaultPersona: c.DefaultPersona,
		HistoryWindow:  c.HistoryWindow,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
	}
}

type store interface {
	handlers.Store
	Close() error
}

func (s storeConfig) open() (store, error) {
	switch s.Driver {
	case "bolt":
		db, err := services.NewBoltDB(s.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := services.NewSQLite(s.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", s.Driver)
	}
}

func (c config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}

func (o openAIConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(o.BaseURL, apiKey, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	llm, err := services.NewOllama(host, o.Parameters, logger)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

func (c compatConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required for the compat provider")
	}
	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewCompat(c.BaseURL, apiKey, c.Parameters, http.DefaultClient, logger), nil
}
