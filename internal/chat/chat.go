// ABOUTME: Model-facing message and content types shared by the agent, runner, and providers
// ABOUTME: A Message is a role plus ordered content parts (text, tool calls, tool results)

package chat

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message in model-facing context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult carries the outcome of a tool call back into context.
// An empty Value with IsError=false means the call is still outstanding.
type ToolResult struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Value    json.RawMessage `json:"value,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
}

// Content is one part of a message body. Exactly one of Text, ToolCall,
// or ToolResult is meaningful, selected by Type.
type Content struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is a role-tagged batch of content parts.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// UserText builds a user message containing a single text part.
func UserText(text string) Message {
	return Message{
		Role:    RoleUser,
		Content: []Content{{Type: PartText, Text: text}},
	}
}

// AssistantText builds an assistant message containing a single text part.
func AssistantText(text string) Message {
	return Message{
		Role:    RoleAssistant,
		Content: []Content{{Type: PartText, Text: text}},
	}
}

// ToolResultMessage builds a tool message carrying one result for callID.
// The value is JSON-encoded; encoding failures degrade to an error result
// so a malformed tool return can never lose the call's terminal outcome.
func ToolResultMessage(callID, toolName string, value any, isError bool) Message {
	encoded, err := json.Marshal(value)
	if err != nil {
		encoded, _ = json.Marshal(fmt.Sprintf("unencodable tool result: %v", err))
		isError = true
	}
	return Message{
		Role: RoleTool,
		Content: []Content{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				CallID:   callID,
				ToolName: toolName,
				Value:    encoded,
				IsError:  isError,
			},
		}},
	}
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var out string
	for _, part := range m.Content {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// IsPendingToolResult reports whether every part of the message is a tool
// result that has no value yet. The agent uses this to skip redundant model
// calls while a tool is still executing or awaiting approval.
func (m Message) IsPendingToolResult() bool {
	if m.Role != RoleTool || len(m.Content) == 0 {
		return false
	}
	for _, part := range m.Content {
		if part.Type != PartToolResult {
			return false
		}
		if part.ToolResult == nil || len(part.ToolResult.Value) > 0 {
			return false
		}
	}
	return true
}
