// ABOUTME: Model provider boundary: context messages plus tool schemas in, text and tool calls out
// ABOUTME: Provider failures are classified as API errors vs everything else

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glitchassassin/forge/internal/chat"
)

// ToolSchema declares one tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema for the tool's arguments
}

// Request is one bounded model invocation: the context window, the
// declared tools, and an implicit tool-choice of "required" capped at a
// single round.
type Request struct {
	System   string
	Messages []chat.Message
	Tools    []ToolSchema
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response carries the assistant-authored messages and any tool calls the
// model requested.
type Response struct {
	Messages  []chat.Message
	ToolCalls []chat.ToolCall
	Usage     Usage
}

// Provider is the black-box model interface.
type Provider interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// APIError marks a failure reported by the model provider's API, as
// opposed to a local programming or transport error. API errors degrade
// to error messages on the queue instead of crashing the agent.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// IsAPIError reports whether err is (or wraps) a provider API error.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
