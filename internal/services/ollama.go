package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/ollama/ollama/api"
)

// DefaultOllamaHost is where a local Ollama listens by default.
const DefaultOllamaHost = "http://localhost:11434"

// errStopped ends a streaming callback once the consumer stopped ranging.
var errStopped = errors.New("consumer stopped")

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance for the server at host. An empty host selects
// DefaultOllamaHost.
func NewOllama(host string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		params: params.WithDefaults(),
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama"), slog.String("host", host)),
	}, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. The response that
// Ollama marks done is yielded as the final delta.
func (o Ollama) Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		msgs := make([]api.Message, 0, len(messages))
		for _, msg := range messages {
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    model,
			Messages: msgs,
			Stream:   &t,
			Options:  o.params.ollamaOptions(),
		}

		o.logger.Debug("Request", slog.String("model", model), slog.Int("messages", len(msgs)))

		err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" && !res.Done {
				return nil
			}
			if !yield(models.Delta{
				Role: models.Role(res.Message.Role),
				Text: res.Message.Content,
				Done: res.Done,
			}, nil) {
				return errStopped
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", upstreamStatus(err)))
		}
	}
}

// Models lists the locally available models.
func (o Ollama) Models(ctx context.Context) ([]string, error) {
	list, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
