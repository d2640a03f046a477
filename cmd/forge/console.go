// ABOUTME: Interactive terminal chat mode for the forge agent
// ABOUTME: Prompts approvals inline and prints assistant replies with color

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/config"
	"github.com/glitchassassin/forge/internal/message"
	"github.com/glitchassassin/forge/internal/runner"
	"github.com/glitchassassin/forge/internal/tools"
)

// consoleConversation is the conversation id terminal sessions share, so
// chat history survives restarts the same way channel history does.
const consoleConversation = "console"

func runChat(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Keep log noise out of the conversation
	logger := setupLogger(config.Logging{Level: "warn", Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer pipeline.db.Close()

	term := &console{in: bufio.NewReader(os.Stdin)}
	if err := pipeline.attachFrontend(term, term.tools()); err != nil {
		return err
	}
	pipeline.queue.On(message.TypeError, term.handleError)

	if err := pipeline.queue.Start(ctx); err != nil {
		return fmt.Errorf("starting queue: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Println("Chatting as conversation \"console\". Empty line to skip, /quit to exit.")

	for {
		fmt.Print("you> ")
		line, err := term.in.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		err = pipeline.queue.Send(ctx, message.NewTurn(consoleConversation, chat.UserText(line)))
		if err != nil {
			return fmt.Errorf("sending turn: %w", err)
		}

		// Block until the turn settles so the approval prompt and the
		// chat prompt never fight over stdin.
		pipeline.queue.Wait()
	}

	pipeline.queue.Wait()
	return nil
}

// console is the terminal frontend: it prints assistant replies, surfaces
// provider errors, and answers approval requests with a y/n prompt. The
// prompt runs while the main loop is parked in Wait, so stdin has a
// single reader at any moment.
type console struct {
	in *bufio.Reader
}

// RequestApproval asks the operator on the terminal. Unlike the Discord
// frontend it decides synchronously, so it never reports pending.
func (c *console) RequestApproval(ctx context.Context, msg *message.Message) (runner.Decision, string, error) {
	call := msg.ToolCall.Call

	yellow := color.New(color.FgYellow)
	yellow.Printf("\ntool> %s %s\n", call.Name, string(call.Args))
	fmt.Print("approve? [y/N] ")

	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return runner.DecisionPending, "", fmt.Errorf("reading approval: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return runner.DecisionApproved, "", nil
	default:
		return runner.DecisionRejected, "rejected at console", nil
	}
}

// tools contributes send_message so the model can reply to the terminal
// the same way it replies to a Discord channel.
func (c *console) tools() tools.Factory {
	return tools.Static(tools.Set{
		"send_message": {
			Name:        "send_message",
			Description: "Send a message to the user in this conversation",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				cyan := color.New(color.FgCyan)
				cyan.Printf("agent> %s\n", in.Text)
				return "sent", nil
			},
		},
	})
}

func (c *console) handleError(ctx context.Context, msg *message.Message) error {
	color.Red("error> %s", msg.Error.Summary)
	return nil
}
