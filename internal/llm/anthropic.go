// ABOUTME: Anthropic implementation of the Provider interface using anthropic-sdk-go
// ABOUTME: Non-streaming message calls with tool_choice=any and one round per invocation

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/glitchassassin/forge/internal/chat"
)

const defaultMaxTokens = 4096

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// AnthropicProvider implements Provider against the Anthropic Messages
// API. Safe for concurrent use.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewAnthropicProvider creates a provider for the configured model.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "llm", "provider", "anthropic"),
	}, nil
}

// Invoke sends the context window and tool schemas to the model and
// returns its assistant messages and requested tool calls. Tool choice is
// always "any": the model must call a tool.
func (p *AnthropicProvider) Invoke(ctx context.Context, req *Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &Response{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	var assistant chat.Message
	assistant.Role = chat.RoleAssistant
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			assistant.Content = append(assistant.Content, chat.Content{
				Type: chat.PartText,
				Text: variant.Text,
			})
		case anthropic.ToolUseBlock:
			call := chat.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: json.RawMessage(variant.JSON.Input.Raw()),
			}
			assistant.Content = append(assistant.Content, chat.Content{
				Type:     chat.PartToolCall,
				ToolCall: &call,
			})
			resp.ToolCalls = append(resp.ToolCalls, call)
		default:
			p.logger.Debug("ignoring unsupported content block", "type", block.Type)
		}
	}
	if len(assistant.Content) > 0 {
		resp.Messages = append(resp.Messages, assistant)
	}

	return resp, nil
}

// buildParams assembles the request. Tool choice "any" is only valid when
// tools are declared; a tool-less request is sent without it.
func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: converting messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: converting tools: %w", err)
		}
		params.Tools = tools
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAny: &anthropic.ToolChoiceAnyParam{},
		}
	}
	return params, nil
}

// convertMessages maps chat messages to Anthropic message params. System
// messages are dropped here; the system prompt travels separately. Tool
// results map to user messages, matching the API's content-block model.
func convertMessages(messages []chat.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch part.Type {
			case chat.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case chat.PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(part.ToolCall.Args, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call args for %s: %w", part.ToolCall.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case chat.PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolResult.CallID,
					string(part.ToolResult.Value),
					part.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == chat.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertTools maps tool schemas to Anthropic tool params.
func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid input schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}

	return result, nil
}

// wrapError classifies SDK errors: API-reported failures become *APIError
// so the agent can degrade them to error messages.
func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := "anthropic request failed"
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if raw := apiErr.RawJSON(); raw != "" {
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
			}
		}
		return &APIError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Message:    message,
			Cause:      err,
		}
	}
	return err
}
