// ABOUTME: Tests for the Runner's approval gating and tool execution
// ABOUTME: Exercises pre-approval, pending, rejection, and execution failure paths

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/tools"
)

type mockSender struct {
	sent []*message.Message
}

func (m *mockSender) Send(ctx context.Context, msg *message.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type staticResolver struct {
	set tools.Set
}

func (s *staticResolver) Tools(conversation string) tools.Set {
	return s.set
}

func echoSet() tools.Set {
	return tools.BasePack()("c1")
}

func toolCallMsg(name, callID string, args string) *message.Message {
	msg := message.NewToolCall("c1", chat.ToolCall{
		ID:   callID,
		Name: name,
		Args: json.RawMessage(args),
	}, nil)
	msg.ID = "msg-" + callID
	return msg
}

func approvalMsg(name, callID string, approved bool, args string) *message.Message {
	msg := message.NewApproval("c1", message.ApprovalBody{
		Call:     chat.ToolCall{ID: callID, Name: name, Args: json.RawMessage(args)},
		Approved: approved,
	})
	msg.ID = "approval-" + callID
	return msg
}

func newTestRunner(cfg Config) (*Runner, *mockSender) {
	r := New(cfg)
	sender := &mockSender{}
	r.sender = sender
	return r, sender
}

func TestRunner_PreApprovedToolSkipsApprover(t *testing.T) {
	approverCalled := false
	r, sender := newTestRunner(Config{
		Approver: ApproverFunc(func(context.Context, *message.Message) (Decision, string, error) {
			approverCalled = true
			return DecisionRejected, "", nil
		}),
		Resolver:    &staticResolver{set: echoSet()},
		PreApproved: []string{"echo"},
	})

	err := r.handleToolCall(context.Background(), toolCallMsg("echo", "call-1", `{"msg":"hi"}`))
	require.NoError(t, err)

	assert.False(t, approverCalled)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, message.TypeApproval, sender.sent[0].Type)
	assert.True(t, sender.sent[0].Approval.Approved)
}

func TestRunner_PendingDecisionEmitsNothing(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: ApproverFunc(func(context.Context, *message.Message) (Decision, string, error) {
			return DecisionPending, "", nil
		}),
		Resolver: &staticResolver{set: echoSet()},
	})

	err := r.handleToolCall(context.Background(), toolCallMsg("echo", "call-1", `{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Empty(t, sender.sent, "a pending call waits for the out-of-band answer")
}

func TestRunner_RejectionSynthesizesApprovalResponse(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: ApproverFunc(func(context.Context, *message.Message) (Decision, string, error) {
			return DecisionRejected, "too dangerous", nil
		}),
		Resolver: &staticResolver{set: echoSet()},
	})

	err := r.handleToolCall(context.Background(), toolCallMsg("echo", "call-1", `{"msg":"hi"}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	body := sender.sent[0].Approval
	assert.False(t, body.Approved)
	assert.Equal(t, "too dangerous", body.Reason)
}

func TestRunner_NoApproverDefaultsToPending(t *testing.T) {
	r, sender := newTestRunner(Config{
		Resolver: &staticResolver{set: echoSet()},
	})

	err := r.handleToolCall(context.Background(), toolCallMsg("echo", "call-1", `{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestRunner_ApproverErrorPropagates(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: ApproverFunc(func(context.Context, *message.Message) (Decision, string, error) {
			return DecisionPending, "", errors.New("approver offline")
		}),
		Resolver: &staticResolver{set: echoSet()},
	})

	err := r.handleToolCall(context.Background(), toolCallMsg("echo", "call-1", `{"msg":"hi"}`))
	assert.Error(t, err)
	assert.Empty(t, sender.sent)
}

func TestRunner_ApprovedCallExecutesTool(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: AlwaysApprove,
		Resolver: &staticResolver{set: echoSet()},
	})

	err := r.handleApproval(context.Background(), approvalMsg("echo", "call-1", true, `{"msg":"hi"}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	turn := sender.sent[0]
	require.Equal(t, message.TypeTurn, turn.Type)
	require.Len(t, turn.Turn.Items, 1)

	result := turn.Turn.Items[0].Content[0].ToolResult
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, "echo", result.ToolName)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `"hi"`, string(result.Value))
}

func TestRunner_RejectedCallEmitsFixedErrorResult(t *testing.T) {
	executed := false
	set := tools.Set{
		"danger": {
			Name: "danger",
			Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
				executed = true
				return nil, nil
			},
		},
	}
	r, sender := newTestRunner(Config{
		Approver: AlwaysApprove,
		Resolver: &staticResolver{set: set},
	})

	err := r.handleApproval(context.Background(), approvalMsg("danger", "call-1", false, `{}`))
	require.NoError(t, err)

	assert.False(t, executed, "rejected tools must never execute")
	require.Len(t, sender.sent, 1)

	result := sender.sent[0].Turn.Items[0].Content[0].ToolResult
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.CallID)
	assert.True(t, result.IsError)
	assert.JSONEq(t, `"rejected by operator"`, string(result.Value))
}

func TestRunner_UnknownToolEmitsErrorResult(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: AlwaysApprove,
		Resolver: &staticResolver{set: tools.Set{}},
	})

	err := r.handleApproval(context.Background(), approvalMsg("ghost", "call-1", true, `{}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	result := sender.sent[0].Turn.Items[0].Content[0].ToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, string(result.Value), "not found")
}

func TestRunner_ToolFailureEmitsErrorResult(t *testing.T) {
	set := tools.Set{
		"flaky": {
			Name: "flaky",
			Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
				return nil, errors.New("backend unavailable")
			},
		},
	}
	r, sender := newTestRunner(Config{
		Approver: AlwaysApprove,
		Resolver: &staticResolver{set: set},
	})

	err := r.handleApproval(context.Background(), approvalMsg("flaky", "call-1", true, `{}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	result := sender.sent[0].Turn.Items[0].Content[0].ToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, string(result.Value), "backend unavailable")
}

func TestRunner_InvalidArgsEmitErrorResult(t *testing.T) {
	r, sender := newTestRunner(Config{
		Approver: AlwaysApprove,
		Resolver: &staticResolver{set: echoSet()},
	})

	// echo requires msg; send wrong type
	err := r.handleApproval(context.Background(), approvalMsg("echo", "call-1", true, `{"msg":7}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	result := sender.sent[0].Turn.Items[0].Content[0].ToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}
