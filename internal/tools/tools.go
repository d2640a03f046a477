// ABOUTME: Tool contract: named capabilities with a JSON Schema and an execute function
// ABOUTME: Tool sets resolve by name and may be parameterized by conversation id

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/glitchassassin/forge/internal/llm"
)

// Tool is a named capability the model may invoke.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema for Args
	Execute     func(ctx context.Context, args json.RawMessage) (any, error)
}

// Set maps tool names to tools.
type Set map[string]*Tool

// Factory builds a tool set bound to one conversation, e.g. a send-message
// tool bound to the conversation's channel.
type Factory func(conversation string) Set

// Static wraps a fixed set as a Factory.
func Static(set Set) Factory {
	return func(string) Set { return set }
}

// Merge combines factories; later factories win on name collision.
func Merge(factories ...Factory) Factory {
	return func(conversation string) Set {
		merged := Set{}
		for _, f := range factories {
			for name, tool := range f(conversation) {
				merged[name] = tool
			}
		}
		return merged
	}
}

// Schemas returns the set's tool declarations for the model, sorted by
// name for deterministic ordering.
func (s Set) Schemas() []llm.ToolSchema {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		tool := s[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return schemas
}

var schemaCache sync.Map // schema text -> *jsonschema.Schema

// ValidateArgs checks the call arguments against the tool's input schema.
// A tool without a schema accepts anything.
func (t *Tool) ValidateArgs(args json.RawMessage) error {
	if len(t.InputSchema) == 0 {
		return nil
	}

	schema, err := compileSchema(t.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: compiling input schema: %w", t.Name, err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool %s: arguments are not valid JSON: %w", t.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", t.Name, err)
	}
	return nil
}

// Run validates the arguments and executes the tool.
func (t *Tool) Run(ctx context.Context, args json.RawMessage) (any, error) {
	if err := t.ValidateArgs(args); err != nil {
		return nil, err
	}
	if t.Execute == nil {
		return nil, fmt.Errorf("tool %s is not executable", t.Name)
	}
	return t.Execute(ctx, args)
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
