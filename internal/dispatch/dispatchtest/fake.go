// Package dispatchtest provides an in-memory notification backend for tests.
package dispatchtest

import (
	"context"
	"sync"

	"github.com/toastd/toastd/internal/dispatch"
	"github.com/toastd/toastd/internal/toast"
)

// Backend records shown payloads and lets tests raise OS events.
type Backend struct {
	mu        sync.Mutex
	emit      func(dispatch.Event)
	shown     []toast.Payload
	forgotten []string
	starts    int
	closed    bool

	// StartErr and ShowErr, when set, are returned by Start and Show.
	StartErr error
	ShowErr  error
}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Start(_ context.Context, _ dispatch.Source, emit func(dispatch.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.StartErr != nil {
		return b.StartErr
	}
	b.emit = emit
	return nil
}

func (b *Backend) Show(_ context.Context, p toast.Payload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ShowErr != nil {
		return b.ShowErr
	}
	b.shown = append(b.shown, p)
	return nil
}

func (b *Backend) Forget(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgotten = append(b.forgotten, tag)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Shown returns a copy of every payload accepted so far.
func (b *Backend) Shown() []toast.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]toast.Payload, len(b.shown))
	copy(out, b.shown)
	return out
}

// Last returns the most recent payload.
func (b *Backend) Last() (toast.Payload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.shown) == 0 {
		return toast.Payload{}, false
	}
	return b.shown[len(b.shown)-1], true
}

func (b *Backend) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

func (b *Backend) Forgotten() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.forgotten...)
}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Emit delivers an event the way an OS callback would.
func (b *Backend) Emit(ev dispatch.Event) {
	b.mu.Lock()
	emit := b.emit
	b.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

// Click activates the body of a shown payload.
func (b *Backend) Click(p toast.Payload) {
	b.Emit(dispatch.Event{Kind: dispatch.EventActivated, Tag: p.CorrelationID, Arguments: p.BodyArguments})
}

// ClickButton activates the action button of a shown payload.
func (b *Backend) ClickButton(p toast.Payload) {
	b.Emit(dispatch.Event{Kind: dispatch.EventActivated, Tag: p.CorrelationID, Arguments: p.ButtonArguments})
}

// Dismiss reports the toast as dismissed for reason.
func (b *Backend) Dismiss(p toast.Payload, reason dispatch.DismissReason) {
	b.Emit(dispatch.Event{Kind: dispatch.EventDismissed, Tag: p.CorrelationID, Reason: reason})
}
