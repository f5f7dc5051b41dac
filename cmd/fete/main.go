// Fete is a conversational event planning assistant.
//
// It builds structured event drafts from chat turns, finalizes them
// into a persistent catalogue, and fans out invitations over email,
// CalDAV, and MQTT. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	fete serve              Start the API server
//	fete init [dir]         Initialize a working directory with defaults
//	fete ask <message>      Run a single chat turn (for testing)
//	fete version            Print version and build information
//	fete -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fetekit/fete-agent/internal/agent"
	"github.com/fetekit/fete-agent/internal/api"
	"github.com/fetekit/fete-agent/internal/buildinfo"
	"github.com/fetekit/fete-agent/internal/caldav"
	"github.com/fetekit/fete-agent/internal/config"
	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/finalize"
	"github.com/fetekit/fete-agent/internal/llm"
	"github.com/fetekit/fete-agent/internal/memory"
	"github.com/fetekit/fete-agent/internal/mqtt"
	"github.com/fetekit/fete-agent/internal/notify"
	"github.com/fetekit/fete-agent/internal/rsvp"
	"github.com/fetekit/fete-agent/internal/store"
	"github.com/fetekit/fete-agent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the fete command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand — the flag package relies
// on package-level globals, which makes it impossible to call run()
// concurrently from tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: fete ask <message>")
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

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Fete - Conversational Event Planning Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: fete [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Run a single chat turn (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk handles the "fete ask <message>" subcommand. It boots a
// minimal agent against an in-memory database and processes a single
// turn, printing the reply and any draft state to stdout. Useful for
// smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessions, err := memory.New(db)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	eventStore, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init event store: %w", err)
	}
	drafts := draft.NewStore()
	registry := tools.NewRegistry(drafts, eventStore)
	llmClient := createLLMClient(cfg, logger)

	ag, err := newAgent(cfg, logger, llmClient, registry, sessions, drafts, nil)
	if err != nil {
		return err
	}

	resp, err := ag.ProcessTurn(ctx, agent.Request{
		SessionID: "cli",
		Message:   strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Reply)
	if len(resp.Draft) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Draft so far:")
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp.Draft); err != nil {
			return err
		}
	}
	return nil
}

// runServe handles the "fete serve" subcommand. It is the primary
// operating mode: loads config, opens the database, wires the agent,
// finalizer, notifiers, and RSVP poller, starts the API server, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Fete",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger only covers the startup banner.
	if cfg.LogLevel != "" {
		// Already validated by config.Validate.
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level, "text")
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"strategy", cfg.Agent.Strategy,
	)

	// --- Database ---
	// Sessions, events, ticket types, and RSVPs share one SQLite file.
	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()

	sessions, err := memory.New(db)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	eventStore, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init event store: %w", err)
	}
	logger.Info("database opened", "path", dbPath)

	// --- Core components ---
	bus := events.New()
	drafts := draft.NewStore()
	registry := tools.NewRegistry(drafts, eventStore)
	llmClient := createLLMClient(cfg, logger)

	ag, err := newAgent(cfg, logger, llmClient, registry, sessions, drafts, bus)
	if err != nil {
		return err
	}

	fin, err := finalize.New(logger, drafts, eventStore, bus, cfg.Finalize.DatePolicy)
	if err != nil {
		return err
	}

	// --- Notification fan-out ---
	if cfg.Notify.Enabled {
		fin.AddNotifier(notify.NewMailer(logger, cfg.Notify, bus))
		logger.Info("email notifications enabled",
			"from", cfg.Notify.From, "smtp", cfg.Notify.SMTP.Host)
	}

	if cfg.CalDAV.Enabled {
		pub, err := caldav.New(logger, cfg.CalDAV, bus)
		if err != nil {
			return fmt.Errorf("init caldav publisher: %w", err)
		}
		fin.AddNotifier(pub)
		logger.Info("caldav publishing enabled",
			"url", cfg.CalDAV.URL, "calendar", cfg.CalDAV.Calendar)
	}

	var announcer *mqtt.Announcer
	if cfg.MQTT.Enabled {
		announcer = mqtt.New(cfg.MQTT, bus, logger)
		go func() {
			if err := announcer.Start(ctx); err != nil {
				logger.Error("mqtt announcer failed", "error", err)
			}
		}()
		fin.AddNotifier(announcer)
		logger.Info("mqtt announcements enabled",
			"broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName)
	}

	// --- RSVP mailbox poller ---
	if cfg.RSVP.Enabled {
		imapClient := rsvp.NewClient(cfg.RSVP, logger)
		defer imapClient.Close()
		poller := rsvp.NewPoller(cfg.RSVP, imapClient, eventStore, bus, logger)
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("rsvp poller stopped", "error", err)
			}
		}()
		logger.Info("rsvp polling enabled",
			"host", cfg.RSVP.Host, "interval", cfg.RSVP.PollInterval())
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port,
		ag, fin, sessions, drafts, eventStore, registry, llmClient, bus, logger)

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if announcer != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := announcer.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Fete stopped")
	return nil
}

// newAgent builds the agent from configuration.
func newAgent(cfg *config.Config, logger *slog.Logger, client llm.Client, registry *tools.Registry, sessions *memory.Store, drafts *draft.Store, bus *events.Bus) (*agent.Agent, error) {
	strategy, err := agent.ParseStrategy(cfg.Agent.Strategy)
	if err != nil {
		return nil, err
	}
	return agent.New(logger, client, registry, sessions, drafts, bus, agent.Options{
		Strategy:       strategy,
		DefaultModel:   cfg.Models.Default,
		SynthesisModel: cfg.Models.Synthesis,
		HistoryWindow:  cfg.Agent.HistoryWindow,
		MaxIterations:  cfg.Agent.MaxIterations,
		TurnTimeout:    cfg.Agent.TurnTimeout(),
	})
}

// newLogger creates a structured logger that writes to w at the given
// level. Format must be "text" or "json"; anything else means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createLLMClient builds a multi-provider LLM client from the
// configuration. Each model in models.providers is mapped to its
// provider; unmapped models fall through to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.Ollama.URL)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}

	for model, provider := range cfg.Models.Providers {
		multi.AddModel(model, provider)
	}

	logger.Info("LLM client initialized", "default_model", cfg.Models.Default)
	return multi
}
