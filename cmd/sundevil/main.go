// Sundevil is a question-answering agent for Arizona State University.
//
// It answers questions by running a Reason-Act loop over a language
// model and a web search tool, keeps a short memory per conversation,
// and serves everything over a small JSON API. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	sundevil serve              Start the API server
//	sundevil init [dir]         Initialize a working directory with defaults
//	sundevil ask <question>     Answer a single question
//	sundevil version            Print version and build information
//	sundevil -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/sundevil-helper/internal/agent"
	"github.com/nugget/sundevil-helper/internal/api"
	"github.com/nugget/sundevil-helper/internal/buildinfo"
	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/connwatch"
	"github.com/nugget/sundevil-helper/internal/conversation"
	"github.com/nugget/sundevil-helper/internal/events"
	"github.com/nugget/sundevil-helper/internal/fetch"
	"github.com/nugget/sundevil-helper/internal/llm"
	"github.com/nugget/sundevil-helper/internal/memory"
	"github.com/nugget/sundevil-helper/internal/mqtt"
	"github.com/nugget/sundevil-helper/internal/search"
	"github.com/nugget/sundevil-helper/internal/tools"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx bounds the process lifetime, logs
// go to stdout, and args is os.Args[1:]. Arguments are parsed by hand
// so run holds no package-level flag state and tests can call it in
// parallel.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
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
			return fmt.Errorf("usage: sundevil ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
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
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sundevil - ASU question-answering agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sundevil [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server")
	fmt.Fprintln(w, "  init [dir]      Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <question>  Answer a single question")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sundevil/config.yaml, /etc/sundevil/config.yaml")
	return nil
}

// runAsk answers one question with an in-memory conversation store and
// prints the answer and its sources. A missing config file is not an
// error here: the built-in defaults point at a local Ollama.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	switch {
	case err == nil:
	case configPath == "" && cfgPath == "":
		cfg = config.Default()
	default:
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if cfg.LogLevel == "" {
		level = slog.LevelWarn
	}
	logger := newLogger(stderr, level, cfg.LogFormat)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	reasoner, err := buildReasoner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, reasoner, memory.NewWindow(cfg.Memory.Window), nil, logger)
	if err != nil {
		return err
	}

	reply, err := svc.Ask(ctx, "cli", question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply.AnswerResult)
	}

	for _, seg := range reply.Answer {
		fmt.Fprintln(stdout, seg)
	}
	if len(reply.Sources) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Sources:")
		for _, s := range reply.Sources {
			fmt.Fprintf(stdout, "  %s\n", s.URL)
		}
	}
	return nil
}

// runServe starts the API server, plus the MQTT bridge when a broker is
// configured, and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting sundevil",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New()

	reasoner, err := buildReasoner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	hctx, hcancel := context.WithCancel(ctx)
	health := connwatch.NewMonitor(bus, logger)
	defer func() {
		hcancel()
		health.Wait()
	}()
	health.Watch(hctx, "reasoner:"+cfg.Reasoner.Provider, reasoner.Ping, connwatch.Backoff{
		// Hosted providers bill the probe; poll them less often.
		Poll: pollInterval(cfg.Reasoner.Provider),
	})

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := buildService(cfg, reasoner, store, bus, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, svc, bus, logger)
	server.SetHealth(health)

	var bridge *mqtt.Bridge
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		loc, _ := time.LoadLocation(cfg.Agent.Timezone)
		bridge = mqtt.New(cfg.MQTT, instanceID, bus, loc, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if bridge != nil {
		g.Go(func() error {
			return bridge.Start(gctx)
		})
	}

	err = g.Wait()
	logger.Info("sundevil stopped", "uptime", buildinfo.Uptime().Round(time.Second))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildReasoner creates the multi-provider reasoner. Ollama is always
// registered and is the fallback for unmapped models; the hosted
// providers are added when their keys are set.
func buildReasoner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.MultiClient, error) {
	ollama := llm.NewOllamaClient(cfg.Reasoner.OllamaURL, cfg.Reasoner.Timeout(), logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Reasoner.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Reasoner.Anthropic.APIKey, cfg.Reasoner.Anthropic.MaxTokens, logger))
	}
	if cfg.Reasoner.Gemini.Configured() {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Reasoner.Gemini.APIKey, "", logger)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		multi.AddProvider("gemini", gemini)
	}

	multi.AddModel(cfg.Reasoner.Model, cfg.Reasoner.Provider)
	multi.SetPrimary(cfg.Reasoner.Provider)
	logger.Info("reasoner configured",
		"provider", cfg.Reasoner.Provider,
		"model", cfg.Reasoner.Model,
		"providers", multi.Providers(),
	)
	return multi, nil
}

func pollInterval(provider string) time.Duration {
	if provider == "ollama" {
		return time.Minute
	}
	return 15 * time.Minute
}

// buildRegistry registers the search tool (when a provider is
// configured) and the page fetch tool (when enabled).
func buildRegistry(cfg *config.Config, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry(logger)

	sc := cfg.Search
	mgr := search.NewManager(sc.Primary)
	opts := []search.ProviderOption{search.WithTimeout(sc.Timeout())}
	if sc.Tavily.Configured() {
		mgr.Register(search.NewTavily(sc.Tavily.APIKey, sc.Tavily.SearchDepth, opts...))
	}
	if sc.Brave.Configured() {
		mgr.Register(search.NewBrave(sc.Brave.APIKey, opts...))
	}
	if sc.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(sc.SearXNG.URL, opts...))
	}
	if mgr.Configured() {
		reg.Register(search.Tool(mgr, sc.ToolName, sc.ResultCount, sc.Timeout()))
		logger.Info("search tool registered", "tool", sc.ToolName, "primary", mgr.Primary(), "providers", mgr.Providers())
	} else {
		logger.Warn("no search provider configured; questions will be answered without web search")
	}

	if cfg.Fetch.Enabled {
		reg.Register(fetch.Tool(fetch.New(fetch.WithMaxChars(cfg.Fetch.MaxChars))))
	}
	return reg
}

// buildStore opens the configured conversation memory. The returned
// func releases it.
func buildStore(cfg *config.Config, logger *slog.Logger) (memory.Store, func(), error) {
	switch cfg.Memory.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := memory.NewSQLiteStore(cfg.Memory.Path, cfg.Memory.Window, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		logger.Info("conversation memory", "backend", "sqlite", "path", cfg.Memory.Path, "window", s.Size())
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close memory store", "error", err)
			}
		}, nil
	default:
		w := memory.NewWindow(cfg.Memory.Window)
		logger.Info("conversation memory", "backend", "memory", "window", w.Size())
		return w, func() {
			logger.Info("discarding in-memory conversations", "conversations", w.Conversations())
		}, nil
	}
}

// buildService assembles the tools, the controller and the conversation
// service around an already-built reasoner and store.
func buildService(cfg *config.Config, reasoner llm.Client, store memory.Store, bus *events.Bus, logger *slog.Logger) (*conversation.Service, error) {
	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	controller := agent.NewController(reasoner, buildRegistry(cfg, logger), agent.Config{
		Model:       cfg.Reasoner.Model,
		Temperature: cfg.Reasoner.Temperature,
		MaxTokens:   cfg.Reasoner.Anthropic.MaxTokens,
		MaxCycles:   cfg.Agent.MaxCycles,
		Fallback:    cfg.Agent.FallbackAnswer,
	}, bus, logger)

	return conversation.NewService(controller, store, conversation.Options{
		Persona:  cfg.Agent.Persona,
		Location: cfg.Agent.Location,
		TimeZone: loc,
	}, bus, logger), nil
}

// newLogger creates a logger at the given level writing text or JSON.
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

// loadConfig locates and parses the configuration file. When no file is
// found the returned path is empty.
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
