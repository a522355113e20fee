package events

import (
	"sync"
	"time"

	"github.com/cuemby/replcheck/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventCheckFinished      EventType = "check.finished"
	EventFailoverTransition EventType = "failover.transition"
	EventFailoverFinished   EventType = "failover.finished"
	EventControlInvoked     EventType = "control.invoked"
)

// Event represents something the harness observed or did
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string

	// Set for check events
	Outcome *types.Outcome

	// Set for failover events
	Transition *types.Transition
	Run        *types.FailoverRun
}

// Handler receives published events
type Handler func(*Event)

// Bus delivers events synchronously, in publish order, to every subscribed
// handler. Checks run sequentially so handlers never race with each other.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   int
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns a function that removes it
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to all handlers. A nil bus drops the event.
func (b *Bus) Publish(event *Event) {
	if b == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Handlers may subscribe or unsubscribe while being called
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// CheckFinished builds the event published when a check produces an outcome
func CheckFinished(o types.Outcome) *Event {
	return &Event{
		Type:    EventCheckFinished,
		Message: o.Check + " on " + o.Endpoint + ": " + string(o.Status),
		Metadata: map[string]string{
			"check":    o.Check,
			"endpoint": o.Endpoint,
			"status":   string(o.Status),
		},
		Outcome: &o,
	}
}

// FailoverTransition builds the event published on every state change
func FailoverTransition(run *types.FailoverRun, tr types.Transition) *Event {
	return &Event{
		Type:      EventFailoverTransition,
		Timestamp: tr.At,
		Message:   string(tr.From) + " -> " + string(tr.To),
		Metadata: map[string]string{
			"run_id": run.ID,
			"from":   string(tr.From),
			"to":     string(tr.To),
		},
		Transition: &tr,
		Run:        run,
	}
}
