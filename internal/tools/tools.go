// Package tools defines the tools available to the agent and the
// policy gates applied before any tool runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Mode is the operating profile narrowing which tools and paths are
// available.
type Mode int

const (
	// ModeDeveloper is the unrestricted profile.
	ModeDeveloper Mode = iota
	// ModeStudent hard-disables terminal execution and batch writes,
	// and narrows writable paths to research and guide subtrees.
	ModeStudent
)

// ParseMode converts a config string to a Mode. Unknown values fall
// back to developer.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "student") {
		return ModeStudent
	}
	return ModeDeveloper
}

func (m Mode) String() string {
	if m == ModeStudent {
		return "student"
	}
	return "developer"
}

// modeLocked lists tools that are unconditionally disabled in student
// mode, regardless of session configuration.
var modeLocked = map[Mode]map[string]bool{
	ModeStudent: {
		"run_terminal_command": true,
		"write_file_batch":     true,
	},
}

// Policy is the per-conversation gate state. The registry itself is an
// immutable shared catalog; each conversation carries its own Policy.
type Policy struct {
	Mode     Mode
	SafeMode bool
	// Enabled maps tool name → enabled. An empty map means all tools
	// are enabled; an unlisted tool defaults to enabled.
	Enabled map[string]bool
}

// Allows reports whether the policy permits the named tool, applying
// the mode lock and then the session toggle.
func (p Policy) Allows(name string) bool {
	if locked := modeLocked[p.Mode]; locked[name] {
		return false
	}
	if len(p.Enabled) > 0 {
		if enabled, listed := p.Enabled[name]; listed && !enabled {
			return false
		}
	}
	return true
}

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema object advertised to the model.
	Parameters map[string]any
	// Mutating marks tools that write the filesystem or execute
	// processes; safe mode rejects them.
	Mutating bool
	Handler  func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry. Builtins are registered
// by the packages that own their dependencies.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry. Registration order is
// preserved in List output.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// List returns the tool schema array for the LLM, filtered by policy:
// mode-locked and session-disabled tools are not advertised.
func (r *Registry) List(p Policy) []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		if !p.Allows(name) {
			continue
		}
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// FilteredCopy returns a new registry containing only the named tools.
// Used to hand sub-agents a narrowed tool subset.
func (r *Registry) FilteredCopy(names []string) *Registry {
	out := NewRegistry(r.logger)
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out.Register(t)
		}
	}
	return out
}

// FilteredCopyExcluding returns a new registry without the named tools.
func (r *Registry) FilteredCopyExcluding(names []string) *Registry {
	excluded := make(map[string]bool, len(names))
	for _, n := range names {
		excluded[n] = true
	}
	out := NewRegistry(r.logger)
	for _, name := range r.order {
		if !excluded[name] {
			out.Register(r.tools[name])
		}
	}
	return out
}

// Execute runs a tool by name with the given JSON arguments and returns
// a JSON result envelope. Errors never propagate as hard failures: the
// envelope carries {"success": false, "error": "..."} so the model can
// see the rejection and react.
func (r *Registry) Execute(ctx context.Context, p Policy, name, argsJSON string) string {
	tool := r.tools[name]
	if tool == nil {
		return ErrorEnvelope(fmt.Sprintf("unknown tool: %s", name))
	}

	// Gate 1: mode lock.
	if locked := modeLocked[p.Mode]; locked[name] {
		return ErrorEnvelope(fmt.Sprintf("tool %s is not available in %s mode", name, p.Mode))
	}

	// Gate 2: session toggle.
	if len(p.Enabled) > 0 {
		if enabled, listed := p.Enabled[name]; listed && !enabled {
			return ErrorEnvelope(fmt.Sprintf("tool %s is disabled for this session", name))
		}
	}

	// Gate 3: safe mode.
	if p.SafeMode && tool.Mutating {
		return ErrorEnvelope("safe mode is enabled: tools that modify files or run commands are blocked")
	}

	args := make(map[string]any)
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return ErrorEnvelope(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Debug("tool failed",
			"tool", name,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		return ErrorEnvelope(err.Error())
	}

	r.logger.Debug("tool executed",
		"tool", name,
		"duration_ms", elapsed.Milliseconds(),
	)

	// Handlers return JSON; wrap anything that isn't.
	if json.Valid([]byte(result)) {
		return result
	}
	return SuccessEnvelope(map[string]any{"result": result})
}

// ErrorEnvelope builds the uniform failure envelope.
func ErrorEnvelope(msg string) string {
	out, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	return string(out)
}

// SuccessEnvelope builds a success envelope with the given fields.
func SuccessEnvelope(fields map[string]any) string {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return ErrorEnvelope(fmt.Sprintf("encode result: %v", err))
	}
	return string(out)
}
