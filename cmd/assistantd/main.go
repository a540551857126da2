// Assistantd is a tool-calling marketing assistant daemon.
//
// It drives an OpenAI-compatible model through a bounded conversation
// loop: read-only tools run automatically, anything that changes
// campaign state becomes a proposal the user approves or rejects over
// the HTTP API. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	assistantd serve             Start the API server
//	assistantd ask <question>    Ask a single question (for testing)
//	assistantd version           Print version and build information
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brightpost/assistant/internal/agent"
	"github.com/brightpost/assistant/internal/api"
	"github.com/brightpost/assistant/internal/buildinfo"
	"github.com/brightpost/assistant/internal/config"
	"github.com/brightpost/assistant/internal/convo"
	"github.com/brightpost/assistant/internal/events"
	"github.com/brightpost/assistant/internal/llm"
	"github.com/brightpost/assistant/internal/notify"
	"github.com/brightpost/assistant/internal/platform"
	"github.com/brightpost/assistant/internal/prompts"
	"github.com/brightpost/assistant/internal/proposal"
	"github.com/brightpost/assistant/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which gets in the way of
// calling run concurrently from tests, and the surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: assistantd ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "assistantd - tool-calling marketing assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: assistantd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk boots a minimal assistant on in-memory stores and processes a
// single question. Mutating tools still create proposals, but with no
// server running there is nobody to approve them; this mode is for
// smoke-testing the read-only path.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	convs := convo.NewMemStore()
	registry := newRegistry()
	proposals := proposal.NewService(proposal.NewMemStore(), registry, nil, logger)
	loop := buildLoop(cfg, convs, registry, proposals, nil, logger)

	result, err := loop.PostUserMessage(ctx, "cli", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Content)
	return nil
}

// runServe is the primary operating mode: it opens storage, wires the
// assistant together, starts the HTTP server and optional MQTT
// notifier, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting assistantd",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Model.Name)

	// --- Storage ---
	var convs convo.Store
	var props proposal.Store
	switch cfg.Storage.Backend {
	case "memory":
		convs = convo.NewMemStore()
		props = proposal.NewMemStore()
		logger.Warn("using in-memory storage, nothing persists across restarts")
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Storage.Path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.Storage.Path, err)
		}
		defer db.Close()

		if convs, err = convo.NewSQLiteStore(db); err != nil {
			return err
		}
		if props, err = proposal.NewSQLiteStore(db); err != nil {
			return err
		}
		logger.Info("database opened", "path", cfg.Storage.Path)
	default:
		return fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	bus := events.NewBus()
	registry := newRegistry()
	proposals := proposal.NewService(props, registry, bus, logger)
	loop := buildLoop(cfg, convs, registry, proposals, bus, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(addr, loop, proposals, convs, bus, logger)

	// --- MQTT notifier ---
	var notifier *notify.MQTTNotifier
	if cfg.MQTT.Enabled {
		stats := &notifyStatsAdapter{proposals: proposals, logger: logger}
		notifier = notify.NewMQTT(cfg.MQTT, bus, stats, logger)
		go func() {
			if err := notifier.Start(ctx); err != nil {
				logger.Error("mqtt notifier failed", "error", err)
			}
		}()
		logger.Info("mqtt notifications enabled", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt notifications disabled")
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if notifier != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := notifier.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("assistantd stopped")
	return nil
}

// newRegistry builds the tool registry against the local marketing
// backend.
func newRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	tools.RegisterMarketing(registry, platform.NewLocal())
	return registry
}

// buildLoop assembles the conversation pipeline around an existing
// registry and proposal service: gateway, coordinator, summarizer,
// context manager, loop.
func buildLoop(cfg *config.Config, convs convo.Store, registry *tools.Registry, proposals *proposal.Service,
	bus *events.Bus, logger *slog.Logger) *agent.Loop {
	gateway := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey)
	coordinator := agent.NewCoordinator(registry, proposals, bus, logger)

	summaryModel := cfg.Model.SummaryName
	if summaryModel == "" {
		summaryModel = cfg.Model.Name
	}
	complete := func(ctx context.Context, prompt string) (string, error) {
		resp, err := gateway.Chat(ctx, summaryModel, []llm.Message{{Role: "user", Content: prompt}}, nil)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}
	summarizer := convo.NewSummarizer(convs, complete,
		cfg.Context.SummaryCutoffMessages, cfg.Context.MaxSummaryPoints, logger)

	contexts := convo.NewContextManager(convs, summarizer, convo.ContextConfig{
		MaxContextMessages:     cfg.Context.MaxContextMessages,
		SummaryTriggerMessages: cfg.Context.SummaryTriggerMessages,
		SummaryCutoffMessages:  cfg.Context.SummaryCutoffMessages,
		MaxSummaryPoints:       cfg.Context.MaxSummaryPoints,
	}, logger)

	return agent.NewLoop(gateway, cfg.Model.Name, registry, coordinator, contexts, convs,
		prompts.System, cfg.Loop.MaxRecursion, bus, logger)
}

// newLogger standardizes the slog handler configuration.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file, falling
// back to built-in defaults when no file exists anywhere.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// notifyStatsAdapter bridges the proposal service to the MQTT notifier's
// [notify.StatsSource].
type notifyStatsAdapter struct {
	proposals *proposal.Service
	logger    *slog.Logger
}

func (a *notifyStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *notifyStatsAdapter) Version() string       { return buildinfo.Version }

func (a *notifyStatsAdapter) PendingProposals() int {
	pending, err := a.proposals.Pending(0)
	if err != nil {
		a.logger.Debug("pending proposal count failed", "error", err)
		return 0
	}
	return len(pending)
}
