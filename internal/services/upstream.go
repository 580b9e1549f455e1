package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/ollama/ollama/api"
	goopenai "github.com/sashabaranov/go-openai"
)

// upstreamStatus turns the SDKs' HTTP status errors into *models.UpstreamError. Any other error
// is returned unchanged.
func upstreamStatus(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &models.UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := strings.TrimSpace(string(reqErr.Body))
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &models.UpstreamError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		body := statusErr.ErrorMessage
		if body == "" {
			body = http.StatusText(statusErr.StatusCode)
		}
		return &models.UpstreamError{StatusCode: statusErr.StatusCode, Body: body}
	}
	return err
}
