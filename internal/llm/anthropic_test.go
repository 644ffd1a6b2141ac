package llm

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/valet/pkg/models"
)

func TestIsRetryable(t *testing.T) {
	retryable := []string{
		"rate_limit_error: slow down",
		"429 too many requests",
		"overloaded_error",
		"api returned 529",
		"500 internal server error",
		"503 service unavailable",
		"request timeout",
		"context deadline exceeded",
		"read: connection reset by peer",
		"dial tcp: connection refused",
	}
	for _, msg := range retryable {
		if !isRetryable(errors.New(msg)) {
			t.Errorf("isRetryable(%q) = false, want true", msg)
		}
	}

	permanent := []string{
		"invalid_request_error: max_tokens required",
		"401 authentication_error",
		"model not found",
	}
	for _, msg := range permanent {
		if isRetryable(errors.New(msg)) {
			t.Errorf("isRetryable(%q) = true, want false", msg)
		}
	}
	if isRetryable(nil) {
		t.Error("isRetryable(nil) = true")
	}
}

func TestConvertMessages_RolesAndOrder(t *testing.T) {
	req := CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "what's the battery level"},
		},
	}
	out := convertMessages(req)
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser ||
		out[1].Role != anthropic.MessageParamRoleAssistant ||
		out[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("roles wrong: %v %v %v", out[0].Role, out[1].Role, out[2].Role)
	}
}

func TestConvertMessages_SkipsEmpty(t *testing.T) {
	req := CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "  "},
			{Role: models.RoleUser, Content: "real"},
		},
	}
	if out := convertMessages(req); len(out) != 1 {
		t.Errorf("messages = %d, want 1", len(out))
	}
}

func TestConvertMessages_ImageRidesLastUserMessage(t *testing.T) {
	req := CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "what's on my screen"},
		},
		Image: &Image{MediaType: "image/png", Data: "aGVsbG8="},
	}
	out := convertMessages(req)
	if len(out) != 1 {
		t.Fatalf("messages = %d, want 1", len(out))
	}
	if len(out[0].Content) != 2 {
		t.Errorf("content blocks = %d, want text+image", len(out[0].Content))
	}
}

func TestConvertMessages_ImageAloneWhenNoUserTail(t *testing.T) {
	req := CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleAssistant, Content: "here you go"},
		},
		Image: &Image{MediaType: "image/png", Data: "aGVsbG8="},
	}
	out := convertMessages(req)
	if len(out) != 2 {
		t.Fatalf("messages = %d, want 2", len(out))
	}
	if out[1].Role != anthropic.MessageParamRoleUser {
		t.Errorf("image message role = %v, want user", out[1].Role)
	}
}

func TestNormalizeImage(t *testing.T) {
	img := NormalizeImage("aGVsbG8=")
	if img == nil || img.MediaType != "image/png" || img.Data != "aGVsbG8=" {
		t.Errorf("bare base64 = %+v", img)
	}

	img = NormalizeImage("data:image/jpeg;base64,aGVsbG8=")
	if img == nil || img.MediaType != "image/jpeg" || img.Data != "aGVsbG8=" {
		t.Errorf("data url = %+v", img)
	}

	if NormalizeImage("  ") != nil {
		t.Error("blank input must yield nil")
	}
}

func TestNewAnthropicClient_Defaults(t *testing.T) {
	c := NewAnthropicClient(AnthropicConfig{APIKey: "sk-test"}, nil)
	if c.model != defaultModel {
		t.Errorf("model = %q, want %q", c.model, defaultModel)
	}
	if c.maxTokens != defaultMaxTokens || c.maxRetries != defaultMaxRetries {
		t.Errorf("defaults = %d/%d", c.maxTokens, c.maxRetries)
	}
	if c.policy.Initial != defaultRetryDelay {
		t.Errorf("policy initial = %v, want %v", c.policy.Initial, defaultRetryDelay)
	}
}
