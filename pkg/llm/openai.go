package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIClient implements Client against an OpenAI-compatible chat API.
type OpenAIClient struct {
	api     openai.Client
	timeout time.Duration
}

// OpenAIConfig holds client construction parameters.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty = platform default
	Timeout time.Duration
}

// NewOpenAIClient creates a chat-completion client. Retries are left to the
// callers (the classifier counts attempts per event), so the SDK's own retry
// layer is disabled.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		api:     openai.NewClient(opts...),
		timeout: timeout,
	}
}

// Complete sends one conversation and returns the full response text with
// token usage. Responses are requested as JSON objects; both callers parse
// structured output.
func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion (%s): empty choices", model)
	}

	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// IsTransient reports whether an error is worth retrying: timeouts, network
// failures, rate limits, and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408, apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		}
		return false
	}
	// Unclassified transport errors (connection reset mid-body and similar)
	// are treated as transient; the attempt cap bounds the damage.
	return true
}
