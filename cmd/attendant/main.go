// Attendant is a presence-aware household conversational agent.
//
// It watches a camera for familiar faces, greets people as they
// arrive, holds short spoken conversations backed by a dialogue model
// with camera and web-search tools, and remembers what it learns about
// each person across conversations. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	attendant serve      Start the agent
//	attendant version    Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/wardenhq/attendant/internal/api"
	"github.com/wardenhq/attendant/internal/audio"
	"github.com/wardenhq/attendant/internal/buildinfo"
	"github.com/wardenhq/attendant/internal/config"
	"github.com/wardenhq/attendant/internal/convo"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/llm"
	"github.com/wardenhq/attendant/internal/memory"
	"github.com/wardenhq/attendant/internal/nvr"
	"github.com/wardenhq/attendant/internal/orchestrator"
	"github.com/wardenhq/attendant/internal/presence"
	"github.com/wardenhq/attendant/internal/search"
	"github.com/wardenhq/attendant/internal/tools"
	"github.com/wardenhq/attendant/internal/vision"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the attendant command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

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
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
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
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Attendant - Presence-Aware Household Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: attendant [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the agent")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runServe is the primary operating mode: load config, open the memory
// database, connect the camera and audio services, wire the presence
// tracker to the conversation engine, start the API server, and block
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting attendant",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial text logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Anthropic.Model)

	if !cfg.Anthropic.Configured() {
		return fmt.Errorf("anthropic.api_key is required")
	}
	if !cfg.Detector.Configured() {
		return fmt.Errorf("detector.url is required")
	}
	if cfg.NVR.SnapshotURL == "" {
		return fmt.Errorf("nvr.snapshot_url is required")
	}
	if cfg.Audio.SpeakURL == "" || cfg.Audio.ListenURL == "" {
		return fmt.Errorf("audio.speak_url and audio.listen_url are required")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Memory store ---
	// SQLite-backed person profiles, facts, and conversation history.
	dbPath := filepath.Join(cfg.DataDir, "attendant.db")
	store, err := memory.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open memory database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("memory database opened", "path", dbPath)

	bus := events.New()

	// --- Dialogue backend ---
	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	if err := client.Ping(ctx); err != nil {
		logger.Warn("dialogue backend unreachable at startup", "error", err)
	}

	// --- Camera and recognition ---
	frames := nvr.NewSnapshot(cfg.NVR.SnapshotURL)
	detector := vision.NewHTTPDetector(cfg.Detector.URL)

	// --- NVR event feed ---
	// Optional: MQTT person-detection events drive adaptive polling and
	// the quick path of the scene tool.
	var feed *nvr.Feed
	if cfg.NVR.Configured() {
		feed = nvr.NewFeed(cfg.NVR, logger)
		if err := feed.Start(ctx); err != nil {
			logger.Warn("nvr feed unavailable", "error", err)
			feed = nil
		} else {
			defer feed.Stop(context.Background())
		}
	} else {
		logger.Info("nvr broker not configured, adaptive polling disabled")
	}

	// --- Audio ---
	speaker := audio.NewHTTPSpeaker(cfg.Audio.SpeakURL)
	rawListener := audio.NewHTTPListener(cfg.Audio.ListenURL)

	monitor := audio.NewMonitor(rawListener, cfg.Audio.AmbientInterval, 0, logger, bus)
	listener := audio.Guarded(rawListener, monitor)

	// --- Tools ---
	registry := tools.NewRegistry(logger, bus)
	var labels tools.LabelSource
	if feed != nil {
		labels = feed
	}
	tools.RegisterSceneTool(registry, frames, labels, client, cfg.Anthropic.VisionModel)
	if cfg.Search.Configured() {
		mgr := search.NewManager(cfg.Search.Provider)
		if cfg.Search.SearXNGURL != "" {
			mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
		}
		if cfg.Search.BraveAPIKey != "" {
			mgr.Register(search.NewBrave(cfg.Search.BraveAPIKey))
		}
		tools.RegisterSearchTool(registry, mgr, cfg.Search.MaxResults)
		logger.Info("web search enabled", "provider", cfg.Search.Provider)
	} else {
		logger.Info("web search not configured")
	}

	// --- Conversation engine and presence ---
	engine := convo.NewEngine(cfg.Dialogue, cfg.Anthropic.Model, client, registry,
		store, speaker, listener, logger, bus)
	tracker := presence.NewTracker(cfg.Presence, logger, bus)

	var activity orchestrator.ActivitySource
	if feed != nil {
		activity = feed
	}
	orch := orchestrator.New(cfg.Presence, tracker, engine, frames, detector,
		detector, activity, speaker, listener, logger, bus)
	monitor.OnSpeech = orch.OnAmbientSpeech

	go orch.Run(ctx)
	go monitor.Run(ctx)

	// --- API server ---
	srv := api.NewServer(engine, tracker, bus, logger)
	addr := net.JoinHostPort(cfg.Listen.Address, fmt.Sprintf("%d", cfg.Listen.Port))

	err = srv.ListenAndServe(ctx, addr)

	// Let an in-flight conversation finish persisting its transcript
	// and facts before the deferred store/feed closes run.
	engine.ForceEnd("shutdown")
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if werr := engine.Wait(waitCtx); werr != nil {
		logger.Warn("session did not finish before shutdown deadline", "error", werr)
	}
	logger.Info("shutdown complete")
	return err
}

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
