// ABOUTME: End-to-end scenarios through the queue: agent, runner, and approver together
// ABOUTME: Covers auto-approval, async approval, and rejection round-trips

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchassassin/forge/internal/agent"
	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/llm"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/queue"
	"github.com/glitchassassin/forge/internal/store"
	"github.com/glitchassassin/forge/internal/tools"
)

// scriptedProvider emits an echo tool call whenever the newest context
// message is from the user, and plain text once a tool result has come
// back, ending the loop. Call ids are assigned in invocation order.
type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	args  json.RawMessage
}

func (p *scriptedProvider) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role != chat.RoleUser {
		return &llm.Response{Messages: []chat.Message{chat.AssistantText("all done")}}, nil
	}

	p.mu.Lock()
	p.calls++
	call := chat.ToolCall{
		ID:   fmt.Sprintf("call-%d", p.calls),
		Name: "echo",
		Args: p.args,
	}
	p.mu.Unlock()

	return &llm.Response{
		Messages: []chat.Message{{
			Role:    chat.RoleAssistant,
			Content: []chat.Content{{Type: chat.PartToolCall, ToolCall: &call}},
		}},
		ToolCalls: []chat.ToolCall{call},
	}, nil
}

// resultCollector records tool-result turns as they pass through the queue.
type resultCollector struct {
	mu      sync.Mutex
	results []*chat.ToolResult
}

func (c *resultCollector) register(q *queue.Queue) {
	q.On(message.TypeTurn, func(ctx context.Context, msg *message.Message) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, item := range msg.Turn.Items {
			for _, part := range item.Content {
				if part.Type == chat.PartToolResult && part.ToolResult != nil {
					c.results = append(c.results, part.ToolResult)
				}
			}
		}
		return nil
	})
}

func (c *resultCollector) snapshot() []*chat.ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*chat.ToolResult, len(c.results))
	copy(out, c.results)
	return out
}

type pipeline struct {
	q         *queue.Queue
	collector *resultCollector
}

func newPipeline(t *testing.T, approver Approver, preApproved []string) *pipeline {
	t.Helper()

	provider := &scriptedProvider{args: json.RawMessage(`{"msg":"hi"}`)}
	q := queue.New(store.NewMemoryStore(), nil)

	a := agent.New(agent.Config{
		Provider:   provider,
		ContextLog: store.NewMemoryStore(),
		Tools:      tools.BasePack(),
	})
	a.Register(q)

	r := New(Config{
		Approver:    approver,
		Resolver:    a,
		PreApproved: preApproved,
	})
	r.Register(q)

	collector := &resultCollector{}
	collector.register(q)

	require.NoError(t, q.Start(context.Background()))
	return &pipeline{q: q, collector: collector}
}

func TestPipeline_AutoApprovedEchoRoundTrip(t *testing.T) {
	p := newPipeline(t, nil, []string{"echo"})

	ctx := context.Background()
	require.NoError(t, p.q.Send(ctx, message.NewTurn("c1", chat.UserText("hi"))))
	p.q.Wait()

	results := p.collector.snapshot()
	require.Len(t, results, 1, "exactly one terminal result per decided call")
	assert.Equal(t, "call-1", results[0].CallID)
	assert.Equal(t, "echo", results[0].ToolName)
	assert.False(t, results[0].IsError)
	assert.JSONEq(t, `"hi"`, string(results[0].Value))
}

func TestPipeline_PendingApprovalStallsUntilResponseArrives(t *testing.T) {
	var pendingCall *message.Message
	var mu sync.Mutex
	approver := ApproverFunc(func(ctx context.Context, msg *message.Message) (Decision, string, error) {
		mu.Lock()
		pendingCall = msg
		mu.Unlock()
		return DecisionPending, "", nil
	})

	p := newPipeline(t, approver, nil)

	ctx := context.Background()
	require.NoError(t, p.q.Send(ctx, message.NewTurn("c1", chat.UserText("hi"))))
	p.q.Wait()

	assert.Empty(t, p.collector.snapshot(), "no result may appear while approval is pending")

	// The human answers later, out of band
	mu.Lock()
	call := pendingCall.ToolCall.Call
	mu.Unlock()
	require.NoError(t, p.q.Send(ctx, message.NewApproval("c1", message.ApprovalBody{
		Call:     call,
		Approved: true,
	})))
	p.q.Wait()

	results := p.collector.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].CallID)
	assert.JSONEq(t, `"hi"`, string(results[0].Value))
}

func TestPipeline_RejectionRoundTrip(t *testing.T) {
	approver := ApproverFunc(func(ctx context.Context, msg *message.Message) (Decision, string, error) {
		return DecisionRejected, "operator said no", nil
	})

	p := newPipeline(t, approver, nil)

	ctx := context.Background()
	require.NoError(t, p.q.Send(ctx, message.NewTurn("c1", chat.UserText("hi"))))
	p.q.Wait()

	results := p.collector.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].CallID)
	assert.True(t, results[0].IsError)
	assert.JSONEq(t, `"rejected by operator"`, string(results[0].Value))
}

func TestPipeline_StalledConversationDoesNotBlockOthers(t *testing.T) {
	approver := ApproverFunc(func(ctx context.Context, msg *message.Message) (Decision, string, error) {
		if msg.Conversation == "stalled" {
			return DecisionPending, "", nil
		}
		return DecisionApproved, "", nil
	})

	p := newPipeline(t, approver, nil)

	ctx := context.Background()
	require.NoError(t, p.q.Send(ctx, message.NewTurn("stalled", chat.UserText("hi"))))
	p.q.Wait()
	require.NoError(t, p.q.Send(ctx, message.NewTurn("healthy", chat.UserText("hi"))))

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, result := range p.collector.snapshot() {
			if !result.IsError {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("healthy conversation never produced a result")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
