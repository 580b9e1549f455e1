package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/dndchat/lmchat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIBaseURL is the local LM Studio endpoint.
const DefaultOpenAIBaseURL = "http://localhost:1234/v1"

// OpenAI provides an implementation of the LLM interface for any server speaking the OpenAI chat
// completions API, local ones included.
type OpenAI struct {
	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance talking to baseURL. An empty baseURL selects the local
// LM Studio endpoint; an empty apiKey is fine for local servers.
func NewOpenAI(baseURL, apiKey string, params LLMParameters, logger *slog.Logger) OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return OpenAI{
		params: params.WithDefaults(),
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" && msg.Role != models.RoleSystem {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}

// Chat is a wrapper around the OpenAI streaming chat completion API. Role-only deltas are
// skipped; the delta carrying a finish reason is marked Done.
func (o OpenAI) Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		req := o.chatRequest(model, openAIMessages(messages))

		reqJSON, err := json.Marshal(req)
		if err == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", upstreamStatus(err)))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Delta{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			done := choice.FinishReason != ""
			if choice.Delta.Content == "" && !done {
				continue
			}
			if !yield(models.Delta{
				Role: models.Role(choice.Delta.Role),
				Text: choice.Delta.Content,
				Done: done,
			}, nil) {
				return
			}
			if done {
				return
			}
		}
	}
}

// Models lists the model ids the server has loaded.
func (o OpenAI) Models(ctx context.Context) ([]string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (o OpenAI) chatRequest(model string, messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}

	return req
}
