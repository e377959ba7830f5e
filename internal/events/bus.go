// Package events provides a publish/subscribe event bus carrying
// presentation notifications from the agent core to the desktop shell.
// Events flow from components (agent loop, tool handlers, research
// orchestrator) to subscribers (the WebSocket handler). The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so tool handlers
// do not need guard checks. Delivery is best-effort and never blocks
// or fails the publishing tool's own result.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the conversation agent loop.
	SourceAgent = "agent"
	// SourceTool identifies events from tool handlers.
	SourceTool = "tool"
	// SourceResearch identifies events from the deep-research orchestrator.
	SourceResearch = "research"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of an agent turn.
	// Data: request_id, user_id.
	KindRequestStart = "request_start"
	// KindRequestComplete signals the end of an agent turn.
	// Data: request_id, iterations, tool_calls_made, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindToken is an incremental text token during streaming.
	// Data: request_id, token.
	KindToken = "token"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindCanvasUpdated signals new content for the canvas pane.
	// Data: content, format.
	KindCanvasUpdated = "canvas_updated"
	// KindStudyGuideGenerated signals a rendered study guide is ready.
	// Data: path, title, html.
	KindStudyGuideGenerated = "study_guide_generated"

	// KindResearchStep signals deep-research progress.
	// Data: research_id, step_type (planning|searching|analyzing|
	// synthesizing), description, details.
	KindResearchStep = "research_step"
)

// Event represents a single notification published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
