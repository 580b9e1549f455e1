// Package client talks to the chat server: it submits turns, assembles the streamed replies and
// manages personas. A Client keeps the server's session cookie, so every call made through it
// belongs to the same conversation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/dndchat/lmchat/internal/models"
)

// Client is safe for concurrent use, but turns of one session should not overlap: the server
// builds every turn on the stored history of the previous ones.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A client without a cookie jar gets one.
// Streamed replies last as long as the model keeps generating, so prefer a context deadline to
// http.Client.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is makes a 404 match models.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == models.ErrNotFound && e.Status == http.StatusNotFound
}

// New creates a Client for the server at baseURL, e.g. http://localhost:2345.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	c := &Client{baseURL: u, http: &http.Client{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}
	c.logger = c.logger.With(slog.String("module", "client"))
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// do sends a request with an optional JSON body. Non-2xx responses are turned into *APIError
// and their body is closed.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if err := json.Unmarshal(b, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Models lists the models the server's upstream offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/list_models", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Personas lists every persona by name.
func (c *Client) Personas(ctx context.Context) (map[string]models.PersonaDetails, error) {
	var res map[string]models.PersonaDetails
	if err := c.getJSON(ctx, "/list_personas", &res); err != nil {
		return nil, err
	}
	return res, nil
}

// SelectPersona makes name the session's persona. An unknown name matches models.ErrNotFound.
func (c *Client) SelectPersona(ctx context.Context, name string) (models.PersonaDetails, error) {
	var res struct {
		Message string                `json:"message"`
		Details models.PersonaDetails `json:"details"`
	}
	if err := c.postJSON(ctx, "/persona", map[string]string{"persona": name}, &res); err != nil {
		return models.PersonaDetails{}, err
	}
	c.logger.Debug("Persona selected", slog.String("persona", name), slog.String("message", res.Message))
	return res.Details, nil
}

// UpsertPersona creates or replaces a persona.
func (c *Client) UpsertPersona(ctx context.Context, p models.Persona) error {
	return c.postJSON(ctx, "/create_persona", p, nil)
}

// DeletePersona removes a persona. An unknown name matches models.ErrNotFound.
func (c *Client) DeletePersona(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/delete_persona", map[string]string{"name": name}, nil)
}

// Session is what a session currently talks to.
type Session struct {
	Persona      string `json:"persona"`
	CustomMode   bool   `json:"custom_mode"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// Session returns the session's active persona and model.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var s Session
	if err := c.getJSON(ctx, "/session", &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SetCustomMode talks to model with systemPrompt instead of a persona. An empty prompt returns
// to the selected persona.
func (c *Client) SetCustomMode(ctx context.Context, model, systemPrompt string) (Session, error) {
	var s Session
	body := map[string]string{"model": model, "system_prompt": systemPrompt}
	if err := c.postJSON(ctx, "/session", body, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// History is a session's conversation with its active persona.
type History struct {
	Persona string         `json:"persona"`
	Entries []models.Entry `json:"entries"`
}

// History returns the conversation with the active persona.
func (c *Client) History(ctx context.Context) (History, error) {
	var h History
	if err := c.getJSON(ctx, "/history", &h); err != nil {
		return History{}, err
	}
	return h, nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
