package session

import (
	"sync"
	"time"
)

// EventType categorizes session events.
type EventType string

const (
	EventOpened   EventType = "session_opened"
	EventClosed   EventType = "session_closed"
	EventOutput   EventType = "output"
	EventExchange EventType = "exchange"
)

// DefaultEventHistory is the number of events kept for late subscribers.
const DefaultEventHistory = 1000

// subscriberBuffer bounds each subscriber channel. Events for a full
// subscriber are dropped.
const subscriberBuffer = 256

// Event is one session occurrence. Output carries a single redacted line.
type Event struct {
	Type      EventType      `json:"type"`
	Identity  string         `json:"identity"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, identity string) Event {
	return Event{
		Type:      eventType,
		Identity:  identity,
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Events fans session events out to subscribers and keeps a bounded
// history. Emit on a nil *Events is a no-op.
type Events struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]chan Event
	history     []Event
	maxHistory  int
	closed      bool
}

// NewEvents creates an event hub keeping up to maxHistory events.
func NewEvents(maxHistory int) *Events {
	if maxHistory <= 0 {
		maxHistory = DefaultEventHistory
	}
	return &Events{
		subscribers: make(map[<-chan Event]chan Event),
		maxHistory:  maxHistory,
	}
}

// Emit records event and sends it to every subscriber without blocking.
func (e *Events) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.history = append(e.history, event)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel receiving every later event. It is closed by
// Unsubscribe or Close.
func (e *Events) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subscribers[ch] = ch
	return ch
}

// Unsubscribe removes and closes a subscription.
func (e *Events) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sendCh, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(sendCh)
	}
}

// Subscribers returns the number of live subscriptions.
func (e *Events) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

// History returns retained events, oldest first. A non-empty identity
// filters to that session.
func (e *Events) History(identity string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Event, 0, len(e.history))
	for _, ev := range e.history {
		if identity == "" || ev.Identity == identity {
			out = append(out, ev)
		}
	}
	return out
}

// Close closes every subscription. Later events are dropped.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for key, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, key)
	}
}
