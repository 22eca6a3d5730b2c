// Package llm provides the chat-completion client used by the classifier
// worker and the self-learning job.
package llm

import "context"

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Usage carries token telemetry for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns the combined token count.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Result is a completed (non-streaming) LLM response.
type Result struct {
	Content string
	Usage   Usage
}

// Client sends one conversation to a model and returns the full response.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message) (*Result, error)
}
