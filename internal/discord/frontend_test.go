// ABOUTME: Tests for the Discord frontend
// ABOUTME: Uses a fake session to verify turns, approval buttons, and button decisions

package discord

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/runner"
	"github.com/glitchassassin/forge/internal/store"
)

type fakeSession struct {
	sent        []string
	sentComplex []*discordgo.MessageSend
	responses   []*discordgo.InteractionResponse
	sendErr     error
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, channelID+": "+content)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sentComplex = append(f.sentComplex, data)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

type fakeSender struct {
	sent []*message.Message
}

func (f *fakeSender) Send(ctx context.Context, msg *message.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newTestFrontend(allowed ...string) (*Frontend, *fakeSession, *fakeSender) {
	sender := &fakeSender{}
	f := New(Config{Token: "test", AllowedChannels: allowed}, sender, store.NewMemoryStore())
	session := &fakeSession{}
	f.session = session
	return f, session, sender
}

// persistMessage stores a message the way the queue does, so tests can
// seed the log a prior process would have left behind.
func persistMessage(t *testing.T, log *store.MemoryStore, msg *message.Message) {
	t.Helper()
	msg.Handled = true
	payload, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, log.Create(context.Background(), &store.Record{
		PrimaryKey:   msg.ID,
		SecondaryKey: msg.Conversation,
		Payload:      payload,
	}))
}

func messageCreate(channelID, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{ID: "user-1", Bot: bot},
		},
	}
}

func buttonClick(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			ChannelID: "chan-1",
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
			},
		},
	}
}

func toolCallMsg(conversation, callID string) *message.Message {
	msg := message.NewToolCall(conversation, chat.ToolCall{
		ID:   callID,
		Name: "send_message",
		Args: json.RawMessage(`{"text":"hi"}`),
	}, nil)
	msg.ID = "msg-" + callID
	return msg
}

func TestFrontend_UserMessageBecomesTurn(t *testing.T) {
	f, _, sender := newTestFrontend("chan-1")

	f.handleMessageCreate(context.Background(), nil, messageCreate("chan-1", "hello agent", false))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, message.TypeTurn, msg.Type)
	assert.Equal(t, "chan-1", msg.Conversation)
	assert.Equal(t, "hello agent", msg.Turn.Items[0].Text())
	assert.Equal(t, chat.RoleUser, msg.Turn.Items[0].Role)
}

func TestFrontend_IgnoresBotsAndOtherChannels(t *testing.T) {
	f, _, sender := newTestFrontend("chan-1")

	f.handleMessageCreate(context.Background(), nil, messageCreate("chan-1", "from a bot", true))
	f.handleMessageCreate(context.Background(), nil, messageCreate("chan-2", "wrong channel", false))

	assert.Empty(t, sender.sent)
}

func TestFrontend_EmptyAllowlistAdmitsAllChannels(t *testing.T) {
	f, _, sender := newTestFrontend()

	f.handleMessageCreate(context.Background(), nil, messageCreate("any-chan", "hi", false))

	assert.Len(t, sender.sent, 1)
}

func TestFrontend_RequestApprovalPostsButtons(t *testing.T) {
	f, session, _ := newTestFrontend("chan-1")

	decision, _, err := f.RequestApproval(context.Background(), toolCallMsg("chan-1", "call-1"))
	require.NoError(t, err)
	assert.Equal(t, runner.DecisionPending, decision)

	require.Len(t, session.sentComplex, 1)
	posted := session.sentComplex[0]
	assert.Contains(t, posted.Content, "send_message")

	require.Len(t, posted.Components, 1)
	row, ok := posted.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 2)

	approve := row.Components[0].(discordgo.Button)
	reject := row.Components[1].(discordgo.Button)
	assert.Equal(t, "tool-approve|call-1", approve.CustomID)
	assert.Equal(t, "tool-reject|call-1", reject.CustomID)
}

func TestFrontend_ApproveButtonEmitsApprovalResponse(t *testing.T) {
	f, session, sender := newTestFrontend("chan-1")

	_, _, err := f.RequestApproval(context.Background(), toolCallMsg("chan-1", "call-1"))
	require.NoError(t, err)

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-approve|call-1"))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, message.TypeApproval, msg.Type)
	assert.Equal(t, "chan-1", msg.Conversation)
	assert.True(t, msg.Approval.Approved)
	assert.Equal(t, "call-1", msg.Approval.Call.ID)

	// Buttons are removed so the decision can't be submitted twice
	require.Len(t, session.responses, 1)
	assert.Empty(t, session.responses[0].Data.Components)
}

func TestFrontend_RejectButtonEmitsRejection(t *testing.T) {
	f, _, sender := newTestFrontend("chan-1")

	_, _, err := f.RequestApproval(context.Background(), toolCallMsg("chan-1", "call-1"))
	require.NoError(t, err)

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-reject|call-1"))

	require.Len(t, sender.sent, 1)
	assert.False(t, sender.sent[0].Approval.Approved)
	assert.Equal(t, "rejected via Discord", sender.sent[0].Approval.Reason)
}

func TestFrontend_DecisionForUnknownCallIsAcknowledgedOnly(t *testing.T) {
	f, session, sender := newTestFrontend("chan-1")

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-approve|ghost"))

	assert.Empty(t, sender.sent)
	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "no longer active")
}

func TestFrontend_SecondClickIsIgnored(t *testing.T) {
	f, _, sender := newTestFrontend("chan-1")

	_, _, err := f.RequestApproval(context.Background(), toolCallMsg("chan-1", "call-1"))
	require.NoError(t, err)

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-approve|call-1"))
	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-reject|call-1"))

	require.Len(t, sender.sent, 1)
	assert.True(t, sender.sent[0].Approval.Approved)
}

func TestFrontend_ClickAfterRestartRecoversFromLog(t *testing.T) {
	log := store.NewMemoryStore()
	persistMessage(t, log, toolCallMsg("chan-1", "call-1"))

	// Fresh frontend: the pending map from the process that posted the
	// buttons is gone.
	sender := &fakeSender{}
	f := New(Config{Token: "test", AllowedChannels: []string{"chan-1"}}, sender, log)
	session := &fakeSession{}
	f.session = session

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-approve|call-1"))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, message.TypeApproval, msg.Type)
	assert.Equal(t, "chan-1", msg.Conversation)
	assert.True(t, msg.Approval.Approved)
	assert.Equal(t, "call-1", msg.Approval.Call.ID)
	assert.Equal(t, "send_message", msg.Approval.Call.Name)

	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "Approved")
}

func TestFrontend_ClickAfterRestartIgnoresDecidedCall(t *testing.T) {
	log := store.NewMemoryStore()
	persistMessage(t, log, toolCallMsg("chan-1", "call-1"))
	approval := message.NewApproval("chan-1", message.ApprovalBody{
		Call:     chat.ToolCall{ID: "call-1", Name: "send_message"},
		Approved: true,
	})
	approval.ID = "msg-approval-1"
	persistMessage(t, log, approval)

	sender := &fakeSender{}
	f := New(Config{Token: "test", AllowedChannels: []string{"chan-1"}}, sender, log)
	session := &fakeSession{}
	f.session = session

	f.handleInteractionCreate(context.Background(), nil, buttonClick("tool-reject|call-1"))

	assert.Empty(t, sender.sent)
	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "no longer active")
}

func TestFrontend_SendMessageTool(t *testing.T) {
	f, session, _ := newTestFrontend("chan-1")

	set := f.Tools()("chan-1")
	require.Contains(t, set, "send_message")

	result, err := set["send_message"].Run(context.Background(), json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "sent", result)
	require.Len(t, session.sent, 1)
	assert.Equal(t, "chan-1: hello", session.sent[0])
}

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		input  string
		action string
		callID string
		ok     bool
	}{
		{"tool-approve|call-1", "tool-approve", "call-1", true},
		{"tool-reject|call-1", "tool-reject", "call-1", true},
		{"tool-approve|", "", "", false},
		{"something-else|call-1", "", "", false},
		{"noseparator", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			action, callID, ok := parseCustomID(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.callID, callID)
		})
	}
}
