// Package agent implements the conversation loop: prompt assembly,
// completion calls, tool-call extraction and execution, and the
// termination rules that keep the loop bounded.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oogalieboogalie/ThinkSpace/internal/events"
	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
	"github.com/oogalieboogalie/ThinkSpace/internal/toolcall"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

const (
	// DefaultMaxIterations bounds completion calls per user turn.
	DefaultMaxIterations = 30

	// contextTokenCeiling is the estimated-token budget for history.
	// Estimation is chars/4; when exceeded, oldest non-system messages
	// are pruned down to pruneFloor.
	contextTokenCeiling = 90_000
	pruneFloor          = 10

	// loopRepeatLimit stops the loop when the same tool is called with
	// the same arguments this many times in a row.
	loopRepeatLimit = 2
)

// Stop reasons surfaced in Result.StopReason.
const (
	StopCompleted    = "completed"
	StopRepeatedCall = "repeated_call"
	StopCancelled    = "cancelled"
)

var thinkRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// LLM is the completion surface the agent needs. Satisfied by
// *llm.Client.
type LLM interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	ChatStream(ctx context.Context, req llm.ChatRequest, cb llm.StreamCallback) (*llm.ChatResponse, error)
}

// Result is the outcome of one user turn.
type Result struct {
	// Content is the final assistant text, with think blocks stripped.
	Content string
	// Iterations is the number of completion calls made.
	Iterations int
	// ToolCallsMade is the number of tool executions across the turn.
	ToolCallsMade int
	// StopReason says how the turn ended.
	StopReason string
}

// Agent is a single conversation: it owns the message history and is
// not safe for concurrent use.
type Agent struct {
	client   LLM
	registry *tools.Registry

	policy        tools.Policy
	model         string
	systemPrompt  string
	maxIterations int
	userID        string
	userName      string

	bus    *events.Bus
	logger *slog.Logger

	history []llm.Message
	// toolCallsMade counts executions across the conversation; it also
	// seeds the id sequence for text-extracted calls.
	toolCallsMade int
}

// Option configures an Agent.
type Option func(*Agent)

// WithPolicy sets the per-conversation tool policy.
func WithPolicy(p tools.Policy) Option { return func(a *Agent) { a.policy = p } }

// WithModel overrides the client's default model for this conversation.
func WithModel(model string) Option { return func(a *Agent) { a.model = model } }

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option { return func(a *Agent) { a.systemPrompt = prompt } }

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithUser attaches the user identity published on events.
func WithUser(id, name string) Option {
	return func(a *Agent) {
		a.userID = id
		a.userName = name
	}
}

// WithEvents attaches the event bus. A nil bus is fine.
func WithEvents(bus *events.Bus) Option { return func(a *Agent) { a.bus = bus } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a conversation agent.
func New(client LLM, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		registry:      registry,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.systemPrompt != "" {
		a.history = append(a.history, llm.Message{
			Role:      "system",
			Content:   a.systemPrompt,
			Timestamp: time.Now(),
		})
	}
	return a
}

// History returns a copy of the conversation history.
func (a *Agent) History() []llm.Message {
	return append([]llm.Message(nil), a.history...)
}

// SetHistory replaces the conversation history, used when resuming a
// persisted session. The system prompt, if configured, is preserved at
// the front.
func (a *Agent) SetHistory(msgs []llm.Message) {
	a.history = a.history[:0]
	if a.systemPrompt != "" {
		a.history = append(a.history, llm.Message{
			Role:      "system",
			Content:   a.systemPrompt,
			Timestamp: time.Now(),
		})
	}
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		a.history = append(a.history, m)
	}
}

// Chat runs one buffered user turn.
func (a *Agent) Chat(ctx context.Context, userText string) (*Result, error) {
	return a.run(ctx, userText, nil)
}

// ChatStream runs one user turn, delivering tokens and tool calls
// through cb as they arrive.
func (a *Agent) ChatStream(ctx context.Context, userText string, cb llm.StreamCallback) (*Result, error) {
	if cb == nil {
		cb = func(llm.StreamEvent) {}
	}
	return a.run(ctx, userText, cb)
}

func (a *Agent) run(ctx context.Context, userText string, cb llm.StreamCallback) (*Result, error) {
	requestID := uuid.NewString()
	start := time.Now()
	startCalls := a.toolCallsMade

	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data:   map[string]any{"request_id": requestID, "user_id": a.userID},
	})

	a.history = append(a.history, llm.Message{
		Role:      "user",
		Content:   userText,
		Timestamp: time.Now(),
	})

	var lastSignature string
	repeats := 0

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return a.finish(requestID, start, "stopped by user", iteration-1, startCalls, StopCancelled), nil
		}

		a.prune()

		req := llm.ChatRequest{
			Model:    a.model,
			Messages: a.promptMessages(),
			Tools:    a.registry.List(a.policy),
		}

		var resp *llm.ChatResponse
		var err error
		if cb != nil {
			resp, err = a.client.ChatStream(ctx, req, func(e llm.StreamEvent) {
				if e.Kind == llm.KindToken {
					a.bus.Publish(events.Event{
						Source: events.SourceAgent,
						Kind:   events.KindToken,
						Data:   map[string]any{"request_id": requestID, "token": e.Token},
					})
				}
				cb(e)
			})
		} else {
			resp, err = a.client.Chat(ctx, req)
		}
		if err != nil {
			if ctx.Err() != nil {
				return a.finish(requestID, start, "stopped by user", iteration-1, startCalls, StopCancelled), nil
			}
			return nil, fmt.Errorf("completion call %d: %w", iteration, err)
		}

		calls := toolcall.Extract(resp.Message.Content, resp.Message.ToolCalls, a.toolCallsMade)

		// The assistant message goes into history before any tool runs,
		// with the extracted calls attached so the tool-role replies
		// that follow stay linked by id. Think blocks are kept here;
		// only the displayed result is stripped.
		assistant := resp.Message
		assistant.ToolCalls = calls
		assistant.Timestamp = time.Now()
		a.history = append(a.history, assistant)

		if len(calls) == 0 {
			content := strings.TrimSpace(thinkRe.ReplaceAllString(resp.Message.Content, ""))
			return a.finish(requestID, start, content, iteration, startCalls, StopCompleted), nil
		}

		for _, call := range calls {
			if ctx.Err() != nil {
				return a.finish(requestID, start, "stopped by user", iteration, startCalls, StopCancelled), nil
			}

			signature := call.Function.Name + "\x00" + call.Function.Arguments
			if signature == lastSignature {
				repeats++
			} else {
				lastSignature = signature
				repeats = 1
			}
			if repeats >= loopRepeatLimit {
				a.logger.Warn("tool loop detected",
					"tool", call.Function.Name,
					"repeats", repeats,
				)
				return a.finish(requestID, start, "stopped: repeated call", iteration, startCalls, StopRepeatedCall), nil
			}

			a.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolCall,
				Data:   map[string]any{"request_id": requestID, "tool": call.Function.Name},
			})

			toolStart := time.Now()
			result := a.registry.Execute(ctx, a.policy, call.Function.Name, call.Function.Arguments)
			a.toolCallsMade++

			a.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolDone,
				Data: map[string]any{
					"request_id":  requestID,
					"tool":        call.Function.Name,
					"ok":          !strings.Contains(result, `"success":false`),
					"duration_ms": time.Since(toolStart).Milliseconds(),
				},
			})

			a.history = append(a.history, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			})
		}
	}

	return nil, fmt.Errorf("no final answer after %d iterations", a.maxIterations)
}

func (a *Agent) finish(requestID string, start time.Time, content string, iterations, startCalls int, reason string) *Result {
	result := &Result{
		Content:       content,
		Iterations:    iterations,
		ToolCallsMade: a.toolCallsMade - startCalls,
		StopReason:    reason,
	}
	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"request_id":      requestID,
			"iterations":      result.Iterations,
			"tool_calls_made": result.ToolCallsMade,
			"elapsed_ms":      time.Since(start).Milliseconds(),
		},
	})
	a.logger.Info("turn finished",
		"iterations", result.Iterations,
		"tool_calls", result.ToolCallsMade,
		"stop", reason,
	)
	return result
}

// promptMessages builds the wire copy of history: user messages get a
// timestamp prefix for temporal grounding. History itself is untouched.
func (a *Agent) promptMessages() []llm.Message {
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	for i := range out {
		if out[i].Role == "user" && !out[i].Timestamp.IsZero() {
			out[i].Content = fmt.Sprintf("[%s] %s",
				out[i].Timestamp.Format("2006-01-02 15:04"), out[i].Content)
		}
	}
	return out
}

// prune drops the oldest non-system messages while the estimated token
// count (chars/4) exceeds the ceiling, never going below the floor.
func (a *Agent) prune() {
	for len(a.history) > pruneFloor && a.estimateTokens() > contextTokenCeiling {
		idx := 0
		if a.history[0].Role == "system" {
			idx = 1
		}
		dropped := a.history[idx]
		a.history = append(a.history[:idx], a.history[idx+1:]...)
		a.logger.Debug("pruned message", "role", dropped.Role, "chars", len(dropped.Content))
	}
}

func (a *Agent) estimateTokens() int {
	chars := 0
	for _, m := range a.history {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / 4
}
