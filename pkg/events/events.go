// Package events delivers per-agent execution trace events to in-process
// subscribers, which the API layer fans out to WebSocket clients.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	// Run-level events carry no agent id.
	StatusRunStarted   = "run.started"
	StatusRunCompleted = "run.completed"
)

// TraceEvent is one entry of a run's execution trace.
type TraceEvent struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id,omitempty"`
	Role         string    `json:"role,omitempty"`
	Layer        int       `json:"layer"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	OutputLength int       `json:"output_length,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// subscriberBuffer bounds each subscriber channel. A slow subscriber loses
// events rather than stalling the scheduler.
const subscriberBuffer = 64

// Broker fans trace events out to subscribers. Publishing never blocks.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]chan TraceEvent
	logger      *slog.Logger
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]chan TraceEvent),
		logger:      slog.Default().With("component", "events"),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (b *Broker) Subscribe() (string, <-chan TraceEvent) {
	id := uuid.New().String()
	ch := make(chan TraceEvent, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (b *Broker) Publish(ev TraceEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("Dropping trace event for slow subscriber",
				"subscriber", id, "agent_id", ev.AgentID)
		}
	}
}

// SubscriberCount is exposed for health reporting.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
