package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/valet/internal/backoff"
	"github.com/haasonsaas/valet/pkg/models"
)

const (
	defaultModel      = "claude-sonnet-4-20250514"
	defaultMaxTokens  = 1024
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// AnthropicConfig configures the Anthropic-backed client.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicClient implements Client on the official Anthropic SDK.
type AnthropicClient struct {
	client     anthropic.Client
	logger     *slog.Logger
	model      string
	maxTokens  int
	maxRetries int
	policy     backoff.Policy
}

// NewAnthropicClient creates a completion client. Zero config fields fall
// back to defaults.
func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy := backoff.DefaultPolicy()
	policy.Initial = cfg.RetryDelay
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		logger:     logger.With("component", "llm"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		policy:     policy,
	}
}

// Complete sends one turn and returns the generated text. Transient
// failures are retried with exponential backoff; no timeout wraps the call
// beyond the caller's context, so a slow completion delays only its own
// turn.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelFor(req)),
		MaxTokens: int64(c.maxTokens),
		Messages:  convertMessages(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	var msg *anthropic.Message
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		start := time.Now()
		msg, err = c.client.Messages.New(ctx, params)
		if err == nil {
			c.logger.Debug("completion ok", "model", params.Model, "duration", time.Since(start))
			break
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("completion request failed: %w", err)
		}
		if attempt < c.maxRetries {
			delay := backoff.Delay(c.policy, attempt+1)
			c.logger.Warn("completion retrying", "attempt", attempt+1, "backoff", delay, "error", err)
			if err := backoff.Sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("completion retries exhausted: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (c *AnthropicClient) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// convertMessages maps session history to API messages. When an image is
// attached it rides on the final user message so the model sees it with the
// question that produced it.
func convertMessages(req CompletionRequest) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.Image != nil {
		img := anthropic.NewImageBlockBase64(req.Image.MediaType, req.Image.Data)
		if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser {
			out[n-1].Content = append(out[n-1].Content, img)
		} else {
			out = append(out, anthropic.NewUserMessage(img))
		}
	}
	return out
}

// isRetryable classifies transient failures worth a backoff: throttling,
// overload, 5xx, timeouts, and connection drops.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"overloaded", "529",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
