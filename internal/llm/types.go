// Package llm provides the chat-completion client for ThinkSpace.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses

	// Timestamp records when the message was appended to history.
	// Not sent on the wire; prompt assembly may inject it into a copy
	// of the content for temporal grounding.
	Timestamp time.Time `json:"-"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
// Arguments stays a string because that is the wire format; decoding
// happens at dispatch where the schema is known.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	// Model overrides the client's default model when non-empty.
	Model    string
	Messages []Message
	// Tools is the schema array advertised to the model, each entry
	// shaped as {type: "function", function: {...}}.
	Tools       []map[string]any
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the unified response from the completion service.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int

	Duration time.Duration
}

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCall events, once per completed call.
	ToolCall *ToolCall

	// Response is set for KindDone events (final summary).
	Response *ChatResponse
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCall fires when a streamed tool call has fully accumulated.
	KindToolCall

	// KindDone signals the stream is complete. Response carries final metadata.
	KindDone
)

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)
