package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry in a session's history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Tool describes an invocable automation exposed by the execution agent.
// InputSchema is the raw JSON Schema for the tool's arguments, passed through
// to the completion model untouched.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Sensitive   bool            `json:"sensitive,omitempty"`
}

// ToolResult is the normalized outcome of one execution-agent invocation.
type ToolResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Image   string `json:"image,omitempty"`
}

// ActionOutcome pairs an executed action with its result for a chat reply.
// On failure Result carries the error text and Success is false.
type ActionOutcome struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Result  string         `json:"result"`
	Success bool           `json:"success"`
	Image   string         `json:"image,omitempty"`
}

// PendingStage tracks where a pending action sits in its confirmation flow.
type PendingStage string

const (
	StageAwaitingConfirmation  PendingStage = "awaiting_confirmation"
	StageAwaitingClarification PendingStage = "awaiting_clarification"
)

// PendingAction is a sensitive tool invocation parked until the user confirms
// it. At most one exists per session; a newer one replaces it.
type PendingAction struct {
	Tool            string         `json:"tool"`
	Args            map[string]any `json:"args"`
	Context         string         `json:"context,omitempty"`
	OriginalRequest string         `json:"originalRequest"`
	Stage           PendingStage   `json:"stage"`
	MissingField    string         `json:"missingField,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}
