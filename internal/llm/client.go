// Package llm talks to the model service that generates the app.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"askh/internal/logging"
)

const (
	// DefaultURL is the default Ollama API endpoint
	DefaultURL = "http://127.0.0.1:11434"
	// DefaultModel is used when no model is configured
	DefaultModel = "qwen2.5-coder:7b"
)

// Client is the model service boundary
type Client interface {
	// Chat sends the ordered conversation and returns the full response.
	// onDelta, when non-nil, receives streamed text as it arrives.
	Chat(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
}

// OllamaClient implements Client against an Ollama server
type OllamaClient struct {
	client      *api.Client
	model       string
	temperature float64
}

// NewOllamaClient creates a client for the server at baseURL
func NewOllamaClient(baseURL, model string, temperature float64) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid model host %q: %w", baseURL, err)
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Minute,
	}

	return &OllamaClient{
		client:      api.NewClient(u, httpClient),
		model:       model,
		temperature: temperature,
	}, nil
}

// Model returns the model name
func (c *OllamaClient) Model() string {
	return c.model
}

// Chat streams a chat completion and returns the concatenated text
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: toAPIMessages(messages),
		Stream:   ptr(true),
		Options:  map[string]interface{}{},
	}
	if c.temperature > 0 {
		req.Options["temperature"] = c.temperature
	}

	start := time.Now()
	var b strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			b.WriteString(resp.Message.Content)
			if onDelta != nil {
				onDelta(resp.Message.Content)
			}
		}
		if resp.Done {
			logging.Debug("model response complete",
				"component", "llm",
				"model", c.model,
				"prompt_tokens", resp.PromptEvalCount,
				"output_tokens", resp.EvalCount,
				"duration", time.Since(start))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("model chat failed: %w", err)
	}
	return b.String(), nil
}

// CheckModel checks that the configured model is pulled
func (c *OllamaClient) CheckModel(ctx context.Context) error {
	listResp, err := c.client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	for _, model := range listResp.Models {
		if model.Name == c.model || model.Model == c.model {
			return nil
		}
	}

	return fmt.Errorf("model '%s' not found - run: ollama pull %s", c.model, c.model)
}

func toAPIMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
