// ThinkSpace is a local knowledge-companion agent.
//
// It runs the conversation loop, tool registry, semantic memory, and
// research orchestration behind a local HTTP API that the desktop shell
// talks to. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	thinkspace serve             Start the local API server
//	thinkspace ask <question>    Ask a single question (for testing)
//	thinkspace version           Print version and build information
//	thinkspace -o json version   Output version information as JSON
package main

import (
	"context"
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

	"github.com/oogalieboogalie/ThinkSpace/internal/agent"
	"github.com/oogalieboogalie/ThinkSpace/internal/api"
	"github.com/oogalieboogalie/ThinkSpace/internal/buildinfo"
	"github.com/oogalieboogalie/ThinkSpace/internal/config"
	"github.com/oogalieboogalie/ThinkSpace/internal/embeddings"
	"github.com/oogalieboogalie/ThinkSpace/internal/events"
	"github.com/oogalieboogalie/ThinkSpace/internal/fetch"
	"github.com/oogalieboogalie/ThinkSpace/internal/knowledge"
	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
	"github.com/oogalieboogalie/ThinkSpace/internal/prompts"
	"github.com/oogalieboogalie/ThinkSpace/internal/research"
	"github.com/oogalieboogalie/ThinkSpace/internal/search"
	"github.com/oogalieboogalie/ThinkSpace/internal/session"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
	"github.com/oogalieboogalie/ThinkSpace/internal/wama"
)

// main constructs the OS-level environment and delegates to [run], so
// the full lifecycle can be driven from tests without touching
// os.Exit, os.Stdout, or os.Args.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on global state
// (flag.CommandLine), which interferes with calling run() concurrently
// from tests, and the argument surface here is small.
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
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
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

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `ThinkSpace %s

Usage:
  thinkspace [flags] <command>

Commands:
  serve             Start the local API server
  ask <question>    Ask a single question (for testing)
  version           Print version and build information

Flags:
  -config <path>    Explicit config file path
  -o <format>       Output format: text (default) or json
`, buildinfo.Version)
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

// loadConfig finds and loads the config file. When no file exists and
// none was requested explicitly, defaults are used.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if parsed, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// components is the wired application stack shared by serve and ask.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *events.Bus
	client    *llm.Client
	registry  *tools.Registry
	policy    tools.Policy
	knowledge *knowledge.Store
}

// buildComponents wires the tool registry and its dependencies from
// configuration. Tools whose backing service is not configured are
// simply not registered; the agent never sees them.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, bus *events.Bus) *components {
	client := llm.New(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)

	mode := tools.ParseMode(cfg.Agent.Mode)
	registry := tools.NewRegistry(logger)
	c := &components{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		client:   client,
		registry: registry,
		policy:   tools.Policy{Mode: mode, SafeMode: cfg.Agent.SafeMode},
	}

	tools.RegisterCalculator(registry)
	tools.RegisterCanvas(registry, bus)

	if cfg.Workspace.Path != "" {
		tools.RegisterFileTools(registry, cfg.Workspace.Path, mode, logger)
		tools.RegisterStudyGuide(registry, cfg.Workspace.Path, mode, bus, logger)
	} else {
		logger.Info("workspace path not set, file tools disabled")
	}

	workDir := cfg.ShellExec.WorkingDir
	if workDir == "" {
		workDir = cfg.Workspace.Path
	}
	tools.RegisterTerminal(registry, tools.TerminalConfig{
		Enabled:         cfg.ShellExec.Enabled,
		WorkingDir:      workDir,
		AllowedPrefixes: cfg.ShellExec.AllowedPrefixes,
		TimeoutSec:      cfg.ShellExec.DefaultTimeoutSec,
	}, logger)

	if cfg.Tavily.Configured() {
		mgr := search.NewManager("tavily")
		mgr.Register(search.NewTavily(cfg.Tavily.APIKey))
		registry.Register(&tools.Tool{
			Name:        "web_search",
			Description: "Search the web and return results with titles, URLs, and snippets.",
			Parameters:  search.ToolDefinition(),
			Handler:     search.ToolHandler(mgr),
		})
	} else {
		logger.Info("no search provider configured, web_search disabled")
	}

	registry.Register(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and extract its readable text content.",
		Parameters:  fetch.ToolDefinition(),
		Handler:     fetch.ToolHandler(fetch.New()),
	})

	if cfg.Embeddings.Enabled {
		embBase := cfg.Embeddings.BaseURL
		if embBase == "" {
			embBase = cfg.LLM.BaseURL
		}
		embKey := cfg.Embeddings.APIKey
		if embKey == "" {
			embKey = cfg.LLM.APIKey
		}
		emb := embeddings.New(embeddings.Config{
			BaseURL: embBase,
			APIKey:  embKey,
			Model:   cfg.Embeddings.Model,
		})

		store := knowledge.New(knowledge.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			UserID:     cfg.Agent.UserID,
		}, emb, wama.New(wama.Config{}, logger), logger)

		if err := store.Connect(ctx); err != nil {
			logger.Warn("vector store unavailable, memory tools disabled", "error", err)
		} else {
			c.knowledge = store
			tools.RegisterKnowledge(registry, store)
		}
	}

	orchestrator := research.NewOrchestrator(client, registry, bus, logger)
	dir, err := research.LoadDirectory(cfg.AgentsFile, logger)
	if err != nil {
		logger.Warn("agents file unusable, starting with none", "error", err)
		dir, _ = research.LoadDirectory("", logger)
	}
	research.RegisterTools(registry, orchestrator, dir)

	return c
}

// agentFactory builds per-conversation agents over the shared stack.
func (c *components) agentFactory() api.AgentFactory {
	mode := tools.ParseMode(c.cfg.Agent.Mode)
	return func() *agent.Agent {
		return agent.New(c.client, c.registry,
			agent.WithPolicy(c.policy),
			agent.WithSystemPrompt(prompts.System(prompts.SystemOptions{
				UserName:    c.cfg.Agent.UserName,
				StudentMode: mode == tools.ModeStudent,
			})),
			agent.WithMaxIterations(c.cfg.Agent.MaxIterations),
			agent.WithUser(c.cfg.Agent.UserID, c.cfg.Agent.UserName),
			agent.WithEvents(c.bus),
			agent.WithLogger(c.logger),
		)
	}
}

func dataDir(cfg *config.Config) (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve data dir: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "thinkspace")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	if path != "" {
		logger.Info("config loaded", "path", path)
	} else {
		logger.Warn("no config file found, using defaults")
	}

	// SIGINT/SIGTERM trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()
	c := buildComponents(ctx, cfg, logger, bus)

	dir, err := dataDir(cfg)
	if err != nil {
		return err
	}
	sessions, err := session.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, c.agentFactory(), c.registry, c.policy, sessions, bus, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("ThinkSpace ready",
		"version", buildinfo.Version,
		"listen", listen,
		"mode", cfg.Agent.Mode,
		"tools", len(c.registry.Names()),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: thinkspace ask <question>")
	}
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Logs go to stderr-style discard here; ask prints only the answer.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := buildComponents(ctx, cfg, logger, events.New())
	result, err := c.agentFactory()().Chat(ctx, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, result.Content)
	return nil
}
