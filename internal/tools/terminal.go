package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// maxCommandOutput caps captured stdout+stderr handed back to the model.
const maxCommandOutput = 64 * 1024

// TerminalConfig controls the run_terminal_command tool.
type TerminalConfig struct {
	Enabled bool
	// WorkingDir is the directory commands run in; defaults to the
	// workspace root.
	WorkingDir string
	// AllowedPrefixes restricts which commands may run. Empty means any
	// command (subject to the outer policy gates).
	AllowedPrefixes []string
	// TimeoutSec bounds each command; defaults to 30 seconds.
	TimeoutSec int
}

// RegisterTerminal registers run_terminal_command. The tool is mutating,
// mode-locked out of student mode, and refuses commands outside the
// configured prefix allow-list.
func RegisterTerminal(reg *Registry, cfg TerminalConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}

	reg.Register(&Tool{
		Name:        "run_terminal_command",
		Description: "Run a shell command in the workspace and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command line to execute",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Optional timeout in seconds",
				},
			},
			"required": []string{"command"},
		},
		Mutating: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", fmt.Errorf("shell execution is disabled in configuration")
			}

			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}

			if len(cfg.AllowedPrefixes) > 0 {
				allowed := false
				for _, prefix := range cfg.AllowedPrefixes {
					if strings.HasPrefix(command, prefix) {
						allowed = true
						break
					}
				}
				if !allowed {
					return "", fmt.Errorf("command %q is not in the allowed prefix list", command)
				}
			}

			timeout := time.Duration(cfg.TimeoutSec) * time.Second
			if sec, ok := args["timeout_sec"].(float64); ok && sec > 0 {
				timeout = time.Duration(sec) * time.Second
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = cfg.WorkingDir

			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			start := time.Now()
			runErr := cmd.Run()
			elapsed := time.Since(start)

			output := out.String()
			truncated := false
			if len(output) > maxCommandOutput {
				output = output[:maxCommandOutput]
				truncated = true
			}

			logger.Info("command executed",
				"command", command,
				"duration_ms", elapsed.Milliseconds(),
				"error", runErr,
			)

			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}

			exitCode := 0
			if runErr != nil {
				var exitErr *exec.ExitError
				if errors.As(runErr, &exitErr) {
					exitCode = exitErr.ExitCode()
				} else {
					return "", fmt.Errorf("run command: %w", runErr)
				}
			}

			return SuccessEnvelope(map[string]any{
				"exit_code": exitCode,
				"output":    output,
				"truncated": truncated,
			}), nil
		},
	})
}
