// ABOUTME: Entry point for the forge agent daemon
// ABOUTME: Wires the store, queue, agent, runner, and Discord frontend together

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/glitchassassin/forge/internal/agent"
	"github.com/glitchassassin/forge/internal/chat"
	"github.com/glitchassassin/forge/internal/config"
	"github.com/glitchassassin/forge/internal/discord"
	"github.com/glitchassassin/forge/internal/llm"
	"github.com/glitchassassin/forge/internal/queue"
	"github.com/glitchassassin/forge/internal/runner"
	"github.com/glitchassassin/forge/internal/store"
	"github.com/glitchassassin/forge/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __
  / _| ___  _ __ __ _  ___
 | |_ / _ \| '__/ _' |/ _ \
 |  _| (_) | | | (_| |  __/
 |_|  \___/|_|  \__, |\___|
                |___/
`

// getConfigPath returns the path to the forge config file.
// Priority: FORGE_CONFIG env var > XDG_CONFIG_HOME/forge/forge.yaml > ~/.config/forge/forge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FORGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "forge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "forge", "forge.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: forge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the agent daemon")
		fmt.Println("  chat                   Talk to the agent on the terminal")
		fmt.Println("  history <conversation> Print a conversation's context log")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "chat":
		err = runChat(ctx)
	case "history":
		err = runHistory(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.Model.Name)
	if cfg.Discord.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Discord:  enabled (%d channels)\n", len(cfg.Discord.AllowedChannels))
	}
	fmt.Println()

	logger.Info("starting forge",
		"config", configPath,
		"database", cfg.Database.Path,
		"model", cfg.Model.Name,
	)

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer pipeline.db.Close()

	var frontend *discord.Frontend
	var approver runner.Approver
	var extra tools.Factory
	if cfg.Discord.Enabled {
		frontend = discord.New(discord.Config{
			Token:           cfg.Discord.Token,
			AllowedChannels: cfg.Discord.AllowedChannels,
		}, pipeline.queue, pipeline.messages)
		frontend.Register(pipeline.queue)
		approver = frontend
		extra = frontend.Tools()
	}

	if err := pipeline.attachFrontend(approver, extra); err != nil {
		return err
	}

	if frontend != nil {
		if err := frontend.Start(ctx); err != nil {
			return fmt.Errorf("starting discord frontend: %w", err)
		}
	}

	if err := pipeline.queue.Start(ctx); err != nil {
		return fmt.Errorf("starting queue: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down, draining in-flight messages")
	pipeline.queue.Wait()
	return nil
}

// pipeline holds the assembled daemon components. The agent's tool
// factory and the runner's approver are attached after construction so a
// frontend (Discord or console) can contribute both.
type pipeline struct {
	db       *store.SQLiteDB
	queue    *queue.Queue
	agent    *agent.Agent
	messages *store.SQLiteStore
	notes    *store.SQLiteStore

	cfg *config.Config
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	messages, err := db.Records("messages")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening message log: %w", err)
	}
	notes, err := db.Records("notes")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening notes store: %w", err)
	}

	return &pipeline{
		db:       db,
		queue:    queue.New(messages, slog.Default()),
		messages: messages,
		notes:    notes,
		cfg:      cfg,
	}, nil
}

// attachFrontend finishes wiring: the agent gets the base tool packs plus
// the frontend's contribution, and the runner gets the frontend as its
// approver. A nil approver leaves every non-pre-approved call pending.
func (p *pipeline) attachFrontend(approver runner.Approver, extra tools.Factory) error {
	contextLog, err := p.db.Records("context_log")
	if err != nil {
		return fmt.Errorf("opening context log: %w", err)
	}

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:    p.cfg.Model.APIKey,
		Model:     p.cfg.Model.Name,
		MaxTokens: p.cfg.Model.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("creating model provider: %w", err)
	}

	factory := tools.Merge(tools.BasePack(), tools.NotesPack(p.notes))
	if extra != nil {
		factory = tools.Merge(factory, extra)
	}

	p.agent = agent.New(agent.Config{
		Provider:      provider,
		ContextLog:    contextLog,
		Tools:         factory,
		System:        p.cfg.Model.System,
		ContextWindow: p.cfg.Context.Window,
	})
	p.agent.Register(p.queue)

	run := runner.New(runner.Config{
		Approver:    approver,
		Resolver:    p.agent,
		PreApproved: p.cfg.Tools.PreApproved,
	})
	run.Register(p.queue)
	return nil
}

func runHistory(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: forge history <conversation>")
	}
	conversation := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	contextLog, err := db.Records("context_log")
	if err != nil {
		return fmt.Errorf("opening context log: %w", err)
	}

	recs, err := contextLog.List(ctx, conversation, 0, 0)
	if err != nil {
		return fmt.Errorf("listing context: %w", err)
	}
	if len(recs) == 0 {
		fmt.Printf("no history for conversation %q\n", conversation)
		return nil
	}

	for _, rec := range recs {
		var m chat.Message
		if err := json.Unmarshal(rec.Payload, &m); err != nil {
			color.Red("  [undecodable entry %s]", rec.PrimaryKey)
			continue
		}
		printChatMessage(m)
	}
	return nil
}

func printChatMessage(m chat.Message) {
	label := color.New(color.FgHiBlack)
	switch m.Role {
	case chat.RoleUser:
		label = color.New(color.FgGreen)
	case chat.RoleAssistant:
		label = color.New(color.FgCyan)
	case chat.RoleTool:
		label = color.New(color.FgYellow)
	}
	label.Printf("%-9s ", m.Role)

	var parts []string
	for _, part := range m.Content {
		switch part.Type {
		case chat.PartText:
			parts = append(parts, part.Text)
		case chat.PartToolCall:
			if part.ToolCall != nil {
				parts = append(parts, fmt.Sprintf("→ %s(%s)", part.ToolCall.Name, string(part.ToolCall.Args)))
			}
		case chat.PartToolResult:
			if part.ToolResult != nil {
				marker := "←"
				if part.ToolResult.IsError {
					marker = "✗"
				}
				parts = append(parts, fmt.Sprintf("%s %s: %s", marker, part.ToolResult.ToolName, string(part.ToolResult.Value)))
			}
		}
	}
	fmt.Println(strings.Join(parts, " "))
}

func setupLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
