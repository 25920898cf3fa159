package notify

import (
	"sync"
	"time"
)

// EventType names a lifecycle transition published on the event feed.
type EventType string

const (
	EventShown        EventType = "shown"
	EventActivated    EventType = "activated"
	EventDismissed    EventType = "dismissed"
	EventExpired      EventType = "expired"
	EventFailed       EventType = "failed"
	EventActionFailed EventType = "action_failed"
)

// Event never carries command strings or clipboard text.
type Event struct {
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlationId"`
	Action        string    `json:"action,omitempty"`
	Source        string    `json:"source,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	Time          time.Time `json:"time"`
}

const subscriberBuffer = 64

// Broker fans lifecycle events out to subscribers. Publishing never blocks:
// a subscriber that falls behind loses events.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
