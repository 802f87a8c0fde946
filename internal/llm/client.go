package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"quill/internal/errkind"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 10 * time.Minute
	defaultBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Request is one completion call. Temperature is fixed per stage so repeated
// calls with the same IdempotencyKey are deterministic where the provider
// supports it.
type Request struct {
	SystemPrompt   string
	UserPrompt     string
	MaxTokens      int
	Temperature    float64
	IdempotencyKey string
}

// Completion is the model output plus billed token counts.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Completer is the contract the analyzer depends on. Satisfied by Client and
// by test fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Client wraps an OpenRouter-compatible chat completion API. It performs no
// retries; the orchestrator owns retry policy.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	return client
}

// Complete issues a JSON-only chat completion request and returns the model
// output with billed token counts. Errors are classified with errkind markers
// so callers can route them through the retry policy.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	var empty Completion
	systemPrompt := strings.TrimSpace(req.SystemPrompt)
	userPrompt := strings.TrimSpace(req.UserPrompt)
	if systemPrompt == "" {
		return empty, errkind.Wrap(errkind.ErrInvariant, "", "llm complete", "system prompt required", nil)
	}
	if userPrompt == "" {
		return empty, errkind.Wrap(errkind.ErrInvariant, "", "llm complete", "user prompt required", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, errkind.Wrap(errkind.ErrAuth, "", "llm complete", "api key required", nil)
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	completion, err := c.sendChatRequest(ctx, payload, req.IdempotencyKey)
	if err != nil {
		return empty, err
	}
	return completion, nil
}

// HealthCheck issues a minimal completion to verify the API key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Complete(ctx, Request{
		SystemPrompt: "You must respond with JSON only.",
		UserPrompt:   `Respond with {"ok":true}`,
		MaxTokens:    16,
	})
	return err
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) sendChatRequest(ctx context.Context, payload chatCompletionRequest, idempotencyKey string) (Completion, error) {
	var empty Completion
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, errkind.Wrap(errkind.ErrInvariant, "", "llm request", "encode body", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return empty, errkind.Wrap(errkind.ErrInvariant, "", "llm request", "new request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return empty, classifyTransport(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, errkind.Wrap(errkind.ErrTransient, "", "llm request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, classifyStatus(resp.StatusCode, body)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return empty, errkind.Wrap(errkind.ErrTransient, "", "llm response", "decode payload", err)
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return empty, errkind.Wrap(errkind.ErrTransient, "", "llm response", completion.Error.Message, nil)
	}
	content := extractContent(completion)
	if content == "" {
		return empty, errkind.Wrap(errkind.ErrTransient, "", "llm response",
			fmt.Sprintf("empty content (finish_reason=%q)", firstFinishReason(completion)), nil)
	}
	return Completion{
		Text:         content,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

func extractContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content
		}
	}
	return ""
}

func firstFinishReason(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if reason := strings.TrimSpace(choice.FinishReason); reason != "" {
			return reason
		}
	}
	return ""
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.Wrap(errkind.ErrTransient, "", "llm request", "timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return errkind.Wrap(errkind.ErrCancelled, "", "llm request", "cancelled", err)
	}
	return errkind.Wrap(errkind.ErrTransient, "", "llm request", "network failure", err)
}

func classifyStatus(statusCode int, body []byte) error {
	snippet := summarizeBody(body)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errkind.Wrap(errkind.ErrAuth, "", "llm request", fmt.Sprintf("http %d: %s", statusCode, snippet), nil)
	case statusCode == http.StatusTooManyRequests:
		return errkind.Wrap(errkind.ErrTransient, "", "llm request", fmt.Sprintf("rate limited: %s", snippet), nil)
	case statusCode >= http.StatusInternalServerError:
		return errkind.Wrap(errkind.ErrTransient, "", "llm request", fmt.Sprintf("http %d: %s", statusCode, snippet), nil)
	default:
		// Remaining 4xx responses mean the pipeline built a bad request.
		return errkind.Wrap(errkind.ErrInvariant, "", "llm request", fmt.Sprintf("http %d: %s", statusCode, snippet), nil)
	}
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		return trimmed[:200] + "..."
	}
	if trimmed == "" {
		return "<empty>"
	}
	return trimmed
}
