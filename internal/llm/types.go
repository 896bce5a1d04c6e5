// Package llm defines the LLM provider interface and related types.
// Providers are interchangeable behind this interface.
package llm

import (
	"context"
	"errors"
	"fmt"

	perrors "github.com/p-blackswan/specforge/internal/errors"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StopReason describes why the LLM stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
// Implementations: ChatProvider (OpenAI-compatible), AnthropicProvider.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// transportError classifies a failed HTTP round trip. Deadline expiry maps
// to ErrTimeout so callers can tell it apart from backend errors.
func transportError(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s http: %w: %v", service, perrors.ErrTimeout, err)
	}
	return fmt.Errorf("%s http: %w", service, err)
}
