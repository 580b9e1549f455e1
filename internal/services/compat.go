package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Compat talks to an OpenAI-compatible server (llama.cpp, vLLM, LM Studio) over plain HTTP,
// reading the streamed completion as server-sent events.
type Compat struct {
	baseURL string
	apiKey  string
	params  LLMParameters

	client *http.Client

	logger *slog.Logger
}

type compatChatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float32        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Seed        *int            `json:"seed,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type compatStreamingResponse struct {
	Choices []compatStreamingChoice `json:"choices"`
}

type compatStreamingChoice struct {
	Delta        compatMessage `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

type compatModels struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewCompat creates a new Compat instance for the server at baseURL, which should include the
// API version path, as in http://localhost:8080/v1. A nil client selects http.DefaultClient.
func NewCompat(baseURL, apiKey string, params LLMParameters, client *http.Client, logger *slog.Logger) Compat {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return Compat{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		params:  params.WithDefaults(),
		client:  client,
		logger:  logger.With(slog.String("module", "compat")),
	}
}

// Chat streams a completion for messages. The stream ends at the [DONE] event or at the first
// choice carrying a finish reason, whichever comes first.
func (c Compat) Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		resp, err := c.doRequest(ctx, model, messages)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Delta{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			c.logger.Debug("Received event", slog.String("event", ev.Data))

			if ev.Data == "[DONE]" {
				return
			}

			var res compatStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield(models.Delta{}, fmt.Errorf("error unmarshaling response: %w", err))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}
			choice := res.Choices[0]
			done := choice.FinishReason != nil && *choice.FinishReason != ""

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

// Models lists the ids reported by GET /models.
func (c Compat) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &models.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var res compatModels
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	ids := make([]string, 0, len(res.Data))
	for _, m := range res.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c Compat) doRequest(ctx context.Context, model string, messages []models.Message) (*http.Response, error) {
	msgs := make([]compatMessage, 0, len(messages))
	for _, msg := range messages {
		msgs = append(msgs, compatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	reqBody := compatChatRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      true,
		Temperature: c.params.Temperature,
		MaxTokens:   c.params.MaxTokens,
		TopP:        c.params.TopP,
		Stop:        c.params.Stop,
		Seed:        c.params.Seed,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	c.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &models.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}

func (c Compat) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
