// Package llm wraps the OpenAI-compatible chat completion endpoint used for
// every generated reply and summary.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/phonechat-go/internal/config"
)

// Client is the minimal subset of openai.Client the engine uses; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient creates a new OpenAI client. It returns ErrNoAPIConfig when the
// key or model is missing so callers can ask the user to configure the API.
func NewClient(cfg config.LLMConfig) (*openai.Client, error) {
	if !cfg.Configured() {
		return nil, ErrNoAPIConfig
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		c.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(c), nil
}

// Complete sends one request and returns the trimmed content of the first
// choice. A nil client means no API is configured. Errors are classified.
func Complete(ctx context.Context, client Client, cfg config.LLMConfig, messages []openai.ChatCompletionMessage) (string, error) {
	if client == nil || strings.TrimSpace(cfg.Model) == "" {
		return "", ErrNoAPIConfig
	}
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &HTTPError{Status: http.StatusOK, Err: errors.New("response has no choices")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var (
	// ErrNoAPIConfig means no endpoint, key or model is configured.
	ErrNoAPIConfig = errors.New("llm: api not configured")
	// ErrTransport matches every failure talking to a configured endpoint.
	ErrTransport = errors.New("llm: transport failure")
)

// HTTPError is a non-success answer from the completion service.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm: http status %d: %v", e.Status, e.Err)
}

func (e *HTTPError) Unwrap() error        { return e.Err }
func (e *HTTPError) Is(target error) bool { return target == ErrTransport }

// NetworkError is a failure before any status came back.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string        { return "llm: network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrTransport }

// Classify maps a go-openai error to HTTPError or NetworkError. Already
// classified errors pass through.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrNoAPIConfig) || errors.Is(err, ErrTransport) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPError{Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &NetworkError{Err: err}
}
