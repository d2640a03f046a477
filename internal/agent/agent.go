// ABOUTME: Agent consumes turn messages, invokes the model, and emits tool-call requests
// ABOUTME: Owns the per-conversation context log and its bounded in-memory window

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/llm"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/queue"
	"github.com/glitchassassin/forge/internal/store"
	"github.com/glitchassassin/forge/internal/tools"
)

// DefaultContextWindow is the number of recent context messages supplied
// to the model when no window size is configured.
const DefaultContextWindow = 100

// ContextLog defines what the agent needs from storage for the
// conversation context log.
type ContextLog interface {
	Create(ctx context.Context, rec *store.Record) error
	List(ctx context.Context, secondaryKey string, limit, offset int) ([]*store.Record, error)
}

// Sender is the slice of the queue the agent uses to emit messages.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// Config assembles an Agent.
type Config struct {
	Provider      llm.Provider
	ContextLog    ContextLog
	Tools         tools.Factory
	System        string
	ContextWindow int // defaults to DefaultContextWindow
}

// Agent drives the model side of the conversation loop. It registers for
// turn messages; each turn is appended to the conversation's context, the
// model is invoked with the bounded window and the tool schemas, and every
// requested tool call becomes a tool-call message on the queue.
//
// The context cache is only ever touched from the conversation's
// serialized queue lane, so per-conversation state needs no locking
// beyond the cache map itself.
type Agent struct {
	provider llm.Provider
	log      ContextLog
	tools    tools.Factory
	system   string
	window   int
	sender   Sender
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string][]chat.Message
}

// New creates an Agent.
func New(cfg Config) *Agent {
	window := cfg.ContextWindow
	if window <= 0 {
		window = DefaultContextWindow
	}
	factory := cfg.Tools
	if factory == nil {
		factory = tools.Static(tools.Set{})
	}
	return &Agent{
		provider: cfg.Provider,
		log:      cfg.ContextLog,
		tools:    factory,
		system:   cfg.System,
		window:   window,
		logger:   slog.Default().With("component", "agent"),
		cache:    make(map[string][]chat.Message),
	}
}

// Register subscribes the agent to turn messages on the queue.
func (a *Agent) Register(q *queue.Queue) {
	a.sender = q
	q.On(message.TypeTurn, a.handleTurn)
}

// Tools resolves the agent's tool set for a conversation. The runner uses
// this to execute approved calls against the same set the model saw.
func (a *Agent) Tools(conversation string) tools.Set {
	return a.tools(conversation)
}

// handleTurn appends the turn to context and, unless every item is a tool
// result still awaiting its value, invokes the model.
func (a *Agent) handleTurn(ctx context.Context, msg *message.Message) error {
	conversation := msg.Conversation

	if err := a.hydrate(ctx, conversation); err != nil {
		return err
	}

	for _, item := range msg.Turn.Items {
		if err := a.appendContext(ctx, conversation, item); err != nil {
			return err
		}
	}
	window := a.cached(conversation)

	if allPendingToolResults(msg.Turn.Items) {
		a.logger.Debug("turn is all pending tool results, skipping model call",
			"conversation", conversation)
		return nil
	}

	set := a.tools(conversation)
	resp, err := a.provider.Invoke(ctx, &llm.Request{
		System:   a.system,
		Messages: window,
		Tools:    set.Schemas(),
	})
	if err != nil {
		if llm.IsAPIError(err) {
			a.logger.Warn("model call failed with API error",
				"conversation", conversation,
				"error", err)
			detail, _ := json.Marshal(map[string]string{"error": err.Error()})
			return a.sender.Send(ctx, message.NewError(conversation, "model call failed", detail))
		}
		return fmt.Errorf("model call failed: %w", err)
	}

	for _, m := range resp.Messages {
		if m.Role == chat.RoleTool {
			continue
		}
		if err := a.appendContext(ctx, conversation, m); err != nil {
			return err
		}
	}

	for _, call := range resp.ToolCalls {
		if err := a.appendContext(ctx, conversation, waitingMarker(call)); err != nil {
			return err
		}
		if err := a.sender.Send(ctx, message.NewToolCall(conversation, call, resp.Messages)); err != nil {
			return err
		}
		a.logger.Info("tool call requested",
			"conversation", conversation,
			"tool", call.Name,
			"call_id", call.ID)
	}

	return nil
}

// hydrate loads the conversation's window from the context log if it is
// not cached yet.
func (a *Agent) hydrate(ctx context.Context, conversation string) error {
	a.mu.Lock()
	_, ok := a.cache[conversation]
	a.mu.Unlock()
	if ok {
		return nil
	}

	records, err := a.log.List(ctx, conversation, 0, 0)
	if err != nil {
		return fmt.Errorf("hydrating context for %s: %w", conversation, err)
	}

	var messages []chat.Message
	for _, rec := range records {
		var m chat.Message
		if err := json.Unmarshal(rec.Payload, &m); err != nil {
			a.logger.Error("skipping undecodable context record",
				"conversation", conversation,
				"primary_key", rec.PrimaryKey,
				"error", err)
			continue
		}
		messages = append(messages, m)
	}
	if len(messages) > a.window {
		messages = messages[len(messages)-a.window:]
	}

	a.mu.Lock()
	a.cache[conversation] = messages
	a.mu.Unlock()
	return nil
}

// appendContext persists one message to the context log and appends it to
// the cached window, trimming to the window size.
func (a *Agent) appendContext(ctx context.Context, conversation string, m chat.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding context message: %w", err)
	}
	err = a.log.Create(ctx, &store.Record{
		PrimaryKey:   uuid.New().String(),
		SecondaryKey: conversation,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("persisting context message: %w", err)
	}

	a.mu.Lock()
	window := append(a.cache[conversation], m)
	if len(window) > a.window {
		window = window[len(window)-a.window:]
	}
	a.cache[conversation] = window
	a.mu.Unlock()
	return nil
}

// cached returns the current cached window for a conversation.
func (a *Agent) cached(conversation string) []chat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache[conversation]
}

// waitingMarker renders a pending tool call as assistant text so the
// model sees, on later turns, that a call is awaiting approval.
func waitingMarker(call chat.ToolCall) chat.Message {
	return chat.AssistantText(fmt.Sprintf(
		"[%s] I am waiting for approval to call the tool %q with arguments: %s",
		call.ID, call.Name, string(call.Args)))
}

// allPendingToolResults reports whether every item in the turn is a tool
// result with no value yet (a call is still outstanding).
func allPendingToolResults(items []chat.Message) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.IsPendingToolResult() {
			return false
		}
	}
	return true
}
