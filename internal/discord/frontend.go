// ABOUTME: Discord frontend: channel messages become turns, approvals become button clicks
// ABOUTME: Also contributes the per-channel send_message tool the model replies with

package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/queue"
	"github.com/glitchassassin/forge/internal/runner"
	"github.com/glitchassassin/forge/internal/store"
	"github.com/glitchassassin/forge/internal/tools"
)

const (
	customIDApprove = "tool-approve"
	customIDReject  = "tool-reject"
)

// session is the slice of discordgo.Session the frontend uses; narrowed
// for testability.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Sender is the slice of the queue the frontend uses to emit messages.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// MessageLog is the read-only slice of the message log the frontend uses
// to recover approval state that did not survive a restart.
type MessageLog interface {
	List(ctx context.Context, secondaryKey string, limit, offset int) ([]*store.Record, error)
}

// Config holds Discord frontend settings.
type Config struct {
	Token           string
	AllowedChannels []string
}

// Frontend bridges Discord to the message queue. Each allowed channel is
// one conversation: user messages become turn messages, tool approvals
// are rendered as Approve/Reject buttons, and button clicks come back as
// approval-response messages.
//
// Frontend implements runner.Approver: it answers every approval request
// with pending after posting the buttons, since the human's decision
// arrives later (possibly never) via the interaction handler.
type Frontend struct {
	cfg     Config
	sender  Sender
	log     MessageLog
	session session
	logger  *slog.Logger
	allowed map[string]struct{}

	mu      sync.Mutex
	pending map[string]*message.Message // call id -> tool-call message
}

// New creates a Discord frontend. The message log backs the pending map
// across restarts: a button click for a call the map no longer knows is
// resolved against the log before being declared stale.
func New(cfg Config, sender Sender, log MessageLog) *Frontend {
	allowed := make(map[string]struct{}, len(cfg.AllowedChannels))
	for _, id := range cfg.AllowedChannels {
		allowed[id] = struct{}{}
	}
	return &Frontend{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		logger:  slog.Default().With("component", "discord"),
		allowed: allowed,
		pending: make(map[string]*message.Message),
	}
}

// Register subscribes the frontend to error messages so provider failures
// surface in the channel instead of disappearing into the log.
func (f *Frontend) Register(q *queue.Queue) {
	q.On(message.TypeError, f.handleError)
}

// Start connects to Discord and begins receiving events. The connection
// is closed when ctx is cancelled.
func (f *Frontend) Start(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + f.cfg.Token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		f.handleMessageCreate(ctx, s, m)
	})
	dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		f.handleInteractionCreate(ctx, s, i)
	})

	if err := dg.Open(); err != nil {
		return fmt.Errorf("opening discord connection: %w", err)
	}
	f.session = dg
	f.logger.Info("discord frontend connected")

	go func() {
		<-ctx.Done()
		if err := dg.Close(); err != nil {
			f.logger.Error("closing discord connection", "error", err)
		}
	}()
	return nil
}

// Tools returns the per-conversation tool factory the frontend
// contributes: send_message bound to the conversation's channel.
func (f *Frontend) Tools() tools.Factory {
	return func(conversation string) tools.Set {
		return tools.Set{
			"send_message": {
				Name:        "send_message",
				Description: "Send a message to the user in this channel",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
				Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
					var in struct {
						Text string `json:"text"`
					}
					if err := json.Unmarshal(args, &in); err != nil {
						return nil, err
					}
					if _, err := f.session.ChannelMessageSend(conversation, in.Text); err != nil {
						return nil, fmt.Errorf("sending message: %w", err)
					}
					return "sent", nil
				},
			},
		}
	}
}

// RequestApproval renders the proposed call with Approve/Reject buttons
// and reports pending; the decision arrives via the button handler.
func (f *Frontend) RequestApproval(ctx context.Context, msg *message.Message) (runner.Decision, string, error) {
	call := msg.ToolCall.Call

	f.mu.Lock()
	f.pending[call.ID] = msg
	f.mu.Unlock()

	content := fmt.Sprintf("The agent wants to call **%s** with arguments:\n```json\n%s\n```",
		call.Name, string(call.Args))
	_, err := f.session.ChannelMessageSendComplex(msg.Conversation, &discordgo.MessageSend{
		Content: content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Approve",
						Style:    discordgo.SuccessButton,
						CustomID: customIDApprove + "|" + call.ID,
					},
					discordgo.Button{
						Label:    "Reject",
						Style:    discordgo.DangerButton,
						CustomID: customIDReject + "|" + call.ID,
					},
				},
			},
		},
	})
	if err != nil {
		f.mu.Lock()
		delete(f.pending, call.ID)
		f.mu.Unlock()
		return runner.DecisionPending, "", fmt.Errorf("posting approval request: %w", err)
	}

	return runner.DecisionPending, "", nil
}

// handleMessageCreate turns a user's channel message into a turn message.
func (f *Frontend) handleMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !f.channelAllowed(m.ChannelID) {
		return
	}

	err := f.sender.Send(ctx, message.NewTurn(m.ChannelID, chat.UserText(m.Content)))
	if err != nil {
		f.logger.Error("failed to enqueue turn",
			"channel_id", m.ChannelID,
			"error", err)
	}
}

// handleInteractionCreate converts an approval button click into an
// approval-response message.
func (f *Frontend) handleInteractionCreate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	action, callID, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	approved := action == customIDApprove

	f.mu.Lock()
	pending, found := f.pending[callID]
	delete(f.pending, callID)
	f.mu.Unlock()

	// The pending map does not survive a restart; an undecided call can
	// still be answered from the durable message log.
	if !found {
		pending = f.lookupUndecided(ctx, i.ChannelID, callID)
		found = pending != nil
	}

	// Remove the buttons so the decision can't be submitted twice
	ack := "Rejected."
	if approved {
		ack = "Approved, running tool..."
	}
	if !found {
		ack = "This approval request is no longer active."
	}
	err := f.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    ack,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		f.logger.Error("failed to acknowledge interaction",
			"call_id", callID,
			"error", err)
	}
	if !found {
		f.logger.Warn("decision for unknown tool call", "call_id", callID)
		return
	}

	reason := ""
	if !approved {
		reason = "rejected via Discord"
	}
	err = f.sender.Send(ctx, message.NewApproval(pending.Conversation, message.ApprovalBody{
		Call:     pending.ToolCall.Call,
		Context:  pending.ToolCall.Context,
		Approved: approved,
		Reason:   reason,
	}))
	if err != nil {
		f.logger.Error("failed to enqueue approval response",
			"call_id", callID,
			"error", err)
	}
}

// lookupUndecided scans the conversation's message log for a tool-call
// with the given call id that has no approval-response yet. Returns nil
// when the call is unknown or already decided, so one call id can never
// yield two approval-responses across restarts.
func (f *Frontend) lookupUndecided(ctx context.Context, conversation, callID string) *message.Message {
	if f.log == nil || conversation == "" {
		return nil
	}

	records, err := f.log.List(ctx, conversation, 0, 0)
	if err != nil {
		f.logger.Error("failed to read message log for pending call",
			"conversation", conversation,
			"call_id", callID,
			"error", err)
		return nil
	}

	var call *message.Message
	for _, rec := range records {
		msg, err := message.Decode(rec.Payload)
		if err != nil {
			continue
		}
		switch msg.Type {
		case message.TypeToolCall:
			if msg.ToolCall.Call.ID == callID {
				call = msg
			}
		case message.TypeApproval:
			if msg.Approval.Call.ID == callID {
				return nil
			}
		}
	}
	return call
}

// handleError posts provider failures to the conversation's channel.
func (f *Frontend) handleError(ctx context.Context, msg *message.Message) error {
	if !f.channelAllowed(msg.Conversation) {
		return nil
	}
	_, err := f.session.ChannelMessageSend(msg.Conversation,
		fmt.Sprintf(":warning: %s", msg.Error.Summary))
	return err
}

// channelAllowed reports whether the channel participates in
// conversations. An empty allowlist admits every channel.
func (f *Frontend) channelAllowed(channelID string) bool {
	if len(f.allowed) == 0 {
		return true
	}
	_, ok := f.allowed[channelID]
	return ok
}

// parseCustomID splits an approval button's custom id into its action and
// call id.
func parseCustomID(customID string) (action, callID string, ok bool) {
	action, callID, ok = strings.Cut(customID, "|")
	if !ok || callID == "" {
		return "", "", false
	}
	if action != customIDApprove && action != customIDReject {
		return "", "", false
	}
	return action, callID, true
}
