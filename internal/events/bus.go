// Package events provides a publish/subscribe event bus for operational
// observability. The cycle controller and the conversation service
// publish; the WebSocket stream and the MQTT bridge subscribe. The bus
// is nil-safe: publishing on a nil *Bus is a no-op, so components never
// need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the cycle controller.
	SourceAgent = "agent"
	// SourceService identifies events from the conversation service.
	SourceService = "service"
	// SourceAPI identifies events from the HTTP adapter.
	SourceAPI = "api"
	// SourceMQTT identifies events from the MQTT bridge.
	SourceMQTT = "mqtt"
	// SourceHealth identifies events from the dependency monitor.
	SourceHealth = "health"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals a question entering the service.
	// Data: request_id, conversation_id, question_len.
	KindRequestStart = "request_start"
	// KindCycleStart signals the controller entering THINKING.
	// Data: request_id, cycle, max_cycles.
	KindCycleStart = "cycle_start"
	// KindLLMResponse signals a completed reasoner call.
	// Data: request_id, cycle, model, tokens_in, tokens_out, duration_ms.
	KindLLMResponse = "llm_response"
	// KindParseError signals reasoner output the controller could not act on.
	// Data: request_id, cycle, reason.
	KindParseError = "parse_error"
	// KindToolCall signals the start of a tool dispatch.
	// Data: request_id, cycle, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool dispatch.
	// Data: request_id, tool, ok, items, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of a question.
	// Data: request_id, conversation_id, outcome, cycles, sources,
	// elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindBridgeState signals the MQTT bridge connecting or dropping.
	// Data: broker, connected.
	KindBridgeState = "bridge_state"
	// KindDependencyState signals a watched provider becoming reachable
	// or unreachable. Data: name, ready, error.
	KindDependencyState = "dependency_state"
)

// Event represents a single operational event published by a component.
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
	// recvToSend lets Unsubscribe accept the receive-only channel the
	// caller holds.
	recvToSend map[<-chan Event]chan Event
	now        func() time.Time
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		now:        time.Now,
	}
}

// Publish sends an event to all subscribers. If a subscriber's channel
// is full the event is dropped for that subscriber. A zero Timestamp is
// filled in with the current time.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe. 64 is a reasonable bufSize
// for network consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
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
