// ABOUTME: Tagged-union message schema for everything that flows through the queue
// ABOUTME: Four variants: turn, tool-call, approval-response, and error

package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glitchassassin/forge/internal/chat"
)

// ErrInvalidMessage is returned when a message fails validation.
var ErrInvalidMessage = errors.New("invalid message")

// Type discriminates the message union.
type Type string

const (
	TypeTurn     Type = "turn"
	TypeToolCall Type = "tool-call"
	TypeApproval Type = "approval-response"
	TypeError    Type = "error"
)

// Types lists every message variant, in dispatch-registry order.
var Types = []Type{TypeTurn, TypeToolCall, TypeApproval, TypeError}

// TurnBody is a batch of role-tagged content to append to a conversation.
type TurnBody struct {
	Items []chat.Message `json:"items"`
}

// ToolCallBody is one proposed tool invocation plus the context that
// produced it.
type ToolCallBody struct {
	Call    chat.ToolCall  `json:"call"`
	Context []chat.Message `json:"context,omitempty"`
}

// ApprovalBody is a decision about a prior tool call.
type ApprovalBody struct {
	Call     chat.ToolCall  `json:"call"`
	Context  []chat.Message `json:"context,omitempty"`
	Approved bool           `json:"approved"`
	Reason   string         `json:"reason,omitempty"`
}

// ErrorBody is an opaque diagnostic for out-of-band failures.
type ErrorBody struct {
	Summary string          `json:"summary"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Message is the envelope for all queue traffic. Exactly one body field
// matching Type is non-nil.
type Message struct {
	ID           string        `json:"id"`
	Conversation string        `json:"conversation"`
	CreatedAt    time.Time     `json:"created_at"`
	Handled      bool          `json:"handled"`
	Type         Type          `json:"type"`
	Turn         *TurnBody     `json:"turn,omitempty"`
	ToolCall     *ToolCallBody `json:"tool_call,omitempty"`
	Approval     *ApprovalBody `json:"approval,omitempty"`
	Error        *ErrorBody    `json:"error,omitempty"`
}

// NewTurn builds an unsent turn message for a conversation.
func NewTurn(conversation string, items ...chat.Message) *Message {
	return &Message{
		Conversation: conversation,
		Type:         TypeTurn,
		Turn:         &TurnBody{Items: items},
	}
}

// NewToolCall builds an unsent tool-call request message.
func NewToolCall(conversation string, call chat.ToolCall, context []chat.Message) *Message {
	return &Message{
		Conversation: conversation,
		Type:         TypeToolCall,
		ToolCall:     &ToolCallBody{Call: call, Context: context},
	}
}

// NewApproval builds an unsent approval-response message.
func NewApproval(conversation string, body ApprovalBody) *Message {
	return &Message{
		Conversation: conversation,
		Type:         TypeApproval,
		Approval:     &body,
	}
}

// NewError builds an unsent error message.
func NewError(conversation, summary string, detail json.RawMessage) *Message {
	return &Message{
		Conversation: conversation,
		Type:         TypeError,
		Error:        &ErrorBody{Summary: summary, Detail: detail},
	}
}

// Validate checks that the envelope carries exactly the body its type names.
func (m *Message) Validate() error {
	if m.Conversation == "" {
		return fmt.Errorf("%w: conversation is required", ErrInvalidMessage)
	}

	bodies := 0
	for _, present := range []bool{m.Turn != nil, m.ToolCall != nil, m.Approval != nil, m.Error != nil} {
		if present {
			bodies++
		}
	}
	if bodies != 1 {
		return fmt.Errorf("%w: expected exactly one body, got %d", ErrInvalidMessage, bodies)
	}

	var match bool
	switch m.Type {
	case TypeTurn:
		match = m.Turn != nil
	case TypeToolCall:
		match = m.ToolCall != nil
	case TypeApproval:
		match = m.Approval != nil
	case TypeError:
		match = m.Error != nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if !match {
		return fmt.Errorf("%w: body does not match type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// Encode serializes the message for storage.
func (m *Message) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message %s: %w", m.ID, err)
	}
	return data, nil
}

// Decode deserializes a stored message payload.
func Decode(data json.RawMessage) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
