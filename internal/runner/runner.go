// ABOUTME: Runner intercepts tool-call requests, gates them behind approval, and executes tools
// ABOUTME: Every decided call id yields exactly one turn carrying its tool result

package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/queue"
	"github.com/glitchassassin/forge/internal/tools"
)

// RejectedByOperator is the fixed tool-result text for a rejected call.
// The model sees this and can explain the refusal to the user.
const RejectedByOperator = "rejected by operator"

// Decision is an approval policy outcome.
type Decision int

const (
	// DecisionPending means the answer will arrive later as an
	// approval-response message from an out-of-band channel. A call may
	// stay pending indefinitely; timeouts are the approver's concern.
	DecisionPending Decision = iota
	DecisionApproved
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Approver decides whether a proposed tool call may run. The reason
// accompanies rejections.
type Approver interface {
	RequestApproval(ctx context.Context, msg *message.Message) (Decision, string, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, msg *message.Message) (Decision, string, error)

func (f ApproverFunc) RequestApproval(ctx context.Context, msg *message.Message) (Decision, string, error) {
	return f(ctx, msg)
}

// AlwaysApprove approves every tool call without asking anyone.
var AlwaysApprove = ApproverFunc(func(context.Context, *message.Message) (Decision, string, error) {
	return DecisionApproved, "", nil
})

// ToolResolver supplies the active tool set for a conversation. The agent
// satisfies this so the runner executes against the same set the model saw.
type ToolResolver interface {
	Tools(conversation string) tools.Set
}

// Sender is the slice of the queue the runner uses to emit messages.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// Config assembles a Runner.
type Config struct {
	Approver Approver
	Resolver ToolResolver

	// PreApproved tool names skip the approver entirely.
	PreApproved []string
}

// Runner coordinates approval gating and tool execution.
type Runner struct {
	approver    Approver
	resolver    ToolResolver
	preApproved map[string]struct{}
	sender      Sender
	logger      *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	pre := make(map[string]struct{}, len(cfg.PreApproved))
	for _, name := range cfg.PreApproved {
		pre[name] = struct{}{}
	}
	return &Runner{
		approver:    cfg.Approver,
		resolver:    cfg.Resolver,
		preApproved: pre,
		logger:      slog.Default().With("component", "runner"),
	}
}

// Register subscribes the runner to tool-call and approval-response
// messages on the queue.
func (r *Runner) Register(q *queue.Queue) {
	r.sender = q
	q.On(message.TypeToolCall, r.handleToolCall)
	q.On(message.TypeApproval, r.handleApproval)
}

// handleToolCall consults the approval policy. Any non-pending decision is
// immediately synthesized into an approval-response message, so
// pre-approved tools reuse the same downstream path as human decisions.
// A pending decision emits nothing: the external approver will send the
// approval-response itself, whenever its answer arrives.
func (r *Runner) handleToolCall(ctx context.Context, msg *message.Message) error {
	call := msg.ToolCall.Call

	decision, reason := DecisionPending, ""
	if _, ok := r.preApproved[call.Name]; ok {
		decision = DecisionApproved
		r.logger.Debug("tool pre-approved",
			"conversation", msg.Conversation,
			"tool", call.Name,
			"call_id", call.ID)
	} else if r.approver != nil {
		var err error
		decision, reason, err = r.approver.RequestApproval(ctx, msg)
		if err != nil {
			return fmt.Errorf("requesting approval for %s: %w", call.ID, err)
		}
	}

	if decision == DecisionPending {
		r.logger.Info("tool call awaiting approval",
			"conversation", msg.Conversation,
			"tool", call.Name,
			"call_id", call.ID)
		return nil
	}

	return r.sender.Send(ctx, message.NewApproval(msg.Conversation, message.ApprovalBody{
		Call:     call,
		Context:  msg.ToolCall.Context,
		Approved: decision == DecisionApproved,
		Reason:   reason,
	}))
}

// handleApproval executes an approved call, or emits the fixed rejection
// result, unblocking the agent either way.
func (r *Runner) handleApproval(ctx context.Context, msg *message.Message) error {
	body := msg.Approval
	call := body.Call

	if !body.Approved {
		r.logger.Info("tool call rejected",
			"conversation", msg.Conversation,
			"tool", call.Name,
			"call_id", call.ID,
			"reason", body.Reason)
		return r.sendResult(ctx, msg.Conversation, call, RejectedByOperator, true)
	}

	set := r.resolver.Tools(msg.Conversation)
	tool, ok := set[call.Name]
	if !ok {
		r.logger.Warn("approved tool not found",
			"conversation", msg.Conversation,
			"tool", call.Name,
			"call_id", call.ID)
		return r.sendResult(ctx, msg.Conversation, call,
			fmt.Sprintf("tool %q not found", call.Name), true)
	}

	result, err := tool.Run(ctx, call.Args)
	if err != nil {
		r.logger.Warn("tool execution failed",
			"conversation", msg.Conversation,
			"tool", call.Name,
			"call_id", call.ID,
			"error", err)
		return r.sendResult(ctx, msg.Conversation, call, err.Error(), true)
	}

	r.logger.Info("tool executed",
		"conversation", msg.Conversation,
		"tool", call.Name,
		"call_id", call.ID)
	return r.sendResult(ctx, msg.Conversation, call, result, false)
}

// sendResult emits the terminal turn for a call id.
func (r *Runner) sendResult(ctx context.Context, conversation string, call chat.ToolCall, value any, isError bool) error {
	turn := message.NewTurn(conversation, chat.ToolResultMessage(call.ID, call.Name, value, isError))
	return r.sender.Send(ctx, turn)
}
