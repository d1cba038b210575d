// Package notify fans pipeline progress events out to live subscribers.
// Delivery is best-effort: a slow subscriber loses events rather than
// blocking the pipeline.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// EventType names a progress event.
type EventType string

const (
	AgentStarted     EventType = "agent_started"
	AgentCompleted   EventType = "agent_completed"
	AgentFailed      EventType = "agent_failed"
	PipelineComplete EventType = "pipeline_complete"
	PipelineFailed   EventType = "pipeline_failed"
)

// Event is one progress update.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"session_id"`
	Agent      model.Stage         `json:"agent,omitempty"`
	Step       int                 `json:"step,omitempty"`
	TotalSteps int                 `json:"total_steps"`
	DurationMS int64               `json:"duration_ms,omitempty"`
	Error      string              `json:"error,omitempty"`
	Status     model.SessionStatus `json:"status,omitempty"`
	Score      *int                `json:"score,omitempty"`
	ReportID   string              `json:"report_id,omitempty"`
	At         time.Time           `json:"at"`
}

// Terminal reports whether the event ends the session's stream.
func (e Event) Terminal() bool {
	return e.Type == PipelineComplete || e.Type == PipelineFailed
}

// Notifier publishes events. Publish never blocks.
type Notifier interface {
	Publish(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

const defaultBuffer = 32

// Broker is an in-process fan-out keyed by session id.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// NewBroker creates a broker. buffer <= 0 uses the default.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{subs: map[string]map[*subscriber]struct{}{}, buffer: buffer}
}

// Subscribe returns a channel of events for sessionID and a cancel func.
// The channel is closed after a terminal event or on cancel.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = map[*subscriber]struct{}{}
		b.subs[sessionID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(sessionID, s)
	}
}

// remove must be called with b.mu held.
func (b *Broker) remove(sessionID string, s *subscriber) {
	set := b.subs[sessionID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Publish delivers e to every subscriber of its session.
func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.TotalSteps == 0 {
		e.TotalSteps = model.TotalStages
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[e.SessionID] {
		select {
		case s.ch <- e:
		default:
			zap.L().Debug("notify: dropped event for slow subscriber",
				zap.String("session_id", e.SessionID),
				zap.String("type", string(e.Type)),
			)
		}
		if e.Terminal() {
			b.remove(e.SessionID, s)
		}
	}
}

// Subscribers returns the number of live subscribers for sessionID.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
