// Package dispatch owns the contract with the OS notification subsystem:
// one-time source registration, toast submission and the activation event
// stream, which it resolves against the activation registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toastd/toastd/internal/activation"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/toast"
)

var log = logging.L("dispatch")

var (
	// ErrNotReady is returned by Show before RegisterSource succeeded or
	// after the backend went away.
	ErrNotReady = errors.New("dispatch: notification source not registered")
	// ErrShowFailed wraps backend rejections of a payload.
	ErrShowFailed = errors.New("dispatch: notification rejected by the OS")
)

// Source identifies this process to the OS notification subsystem.
type Source struct {
	AppID       string
	DisplayName string
	// ExePath is recorded in the registration so the OS can attribute the
	// notifications.
	ExePath string
}

// EventKind classifies backend events.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventDismissed EventKind = "dismissed"
	EventFailed    EventKind = "failed"
	// EventBackendExited means no further events will arrive and Show no
	// longer works.
	EventBackendExited EventKind = "backend_exited"
)

// DismissReason mirrors the OS reasons a toast went away without activation.
type DismissReason string

const (
	ReasonUserCanceled      DismissReason = "UserCanceled"
	ReasonApplicationHidden DismissReason = "ApplicationHidden"
	ReasonTimedOut          DismissReason = "TimedOut"
	ReasonFailed            DismissReason = "Failed"
)

// Event is delivered by a backend on its own goroutine.
type Event struct {
	Kind EventKind
	// Arguments is the raw activation argument string for EventActivated.
	Arguments string
	// Tag is the correlation id the backend was given in Show.
	Tag    string
	Reason DismissReason
	Err    string
}

// Backend is the OS boundary. Start performs the registration and begins
// delivering events to emit; it is called at most once.
type Backend interface {
	Start(ctx context.Context, src Source, emit func(Event)) error
	Show(ctx context.Context, p toast.Payload) error
	// Forget tells the backend an entry will never resolve, so it can drop
	// any per-toast state.
	Forget(tag string)
	Close() error
}

// Hooks receive resolved lifecycle transitions. All are optional and are
// called on the backend's event goroutine, so they must not block.
type Hooks struct {
	Activated func(entry activation.Entry, src toast.Source)
	Dismissed func(entry activation.Entry, reason DismissReason)
	Expired   func(id string)
	// Dropped reports events that could not be resolved.
	Dropped func(reason string)
}

type Dispatcher struct {
	backend Backend
	store   activation.Store
	src     Source
	hooks   Hooks
	monitor *health.Monitor
	now     func() time.Time

	regMu      sync.Mutex
	registered bool
	ready      atomic.Bool
}

func New(backend Backend, store activation.Store, src Source, hooks Hooks, monitor *health.Monitor) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		store:   store,
		src:     src,
		hooks:   hooks,
		monitor: monitor,
		now:     time.Now,
	}
}

// RegisterSource registers the process with the OS and subscribes to the
// activation stream. Calling it again after success is a no-op; a failed
// attempt may be retried.
func (d *Dispatcher) RegisterSource(ctx context.Context) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	if d.registered {
		return nil
	}

	start := time.Now()
	if err := d.backend.Start(ctx, d.src, d.deliver); err != nil {
		d.setHealth(health.Unhealthy, err.Error())
		return fmt.Errorf("register notification source %q: %w", d.src.AppID, err)
	}
	d.registered = true
	d.ready.Store(true)
	d.setHealth(health.Healthy, "")
	log.Info("notification source registered", "appId", d.src.AppID, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

// Ready reports whether Show can be called.
func (d *Dispatcher) Ready() bool {
	return d.ready.Load()
}

// Show registers entry and then submits p. The entry is in the store before
// the backend sees the payload, so an immediate activation always resolves.
// If the backend rejects the payload the entry is removed again and returned
// to the caller's cleanup through the error path.
func (d *Dispatcher) Show(ctx context.Context, p toast.Payload, entry activation.Entry) error {
	if !d.Ready() {
		return ErrNotReady
	}
	if err := d.store.Insert(entry); err != nil {
		return fmt.Errorf("register activation entry: %w", err)
	}

	if err := d.backend.Show(ctx, p); err != nil {
		d.store.Take(entry.ID)
		return fmt.Errorf("%w: %w", ErrShowFailed, err)
	}

	_ = d.store.MarkDisplayed(entry.ID)
	logging.WithCorrelation(log, entry.ID).Debug("notification shown")
	return nil
}

// Forget drops backend state for ids that were purged from the store.
func (d *Dispatcher) Forget(id string) {
	d.backend.Forget(id)
}

func (d *Dispatcher) Close() error {
	d.ready.Store(false)
	return d.backend.Close()
}

// deliver is the entry point for every backend event. Nothing raised while
// handling an event may escape into the backend's goroutine.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic handling notification event", "kind", string(ev.Kind), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch ev.Kind {
	case EventActivated:
		d.activated(ev)
	case EventDismissed:
		d.dismissed(ev.Tag, ev.Reason)
	case EventFailed:
		log.Warn("notification failed", logging.KeyCorrelationID, ev.Tag, logging.KeyError, ev.Err)
		d.dismissed(ev.Tag, ReasonFailed)
	case EventBackendExited:
		d.ready.Store(false)
		d.setHealth(health.Unhealthy, "notification backend exited: "+ev.Err)
		log.Error("notification backend exited", logging.KeyError, ev.Err)
	default:
		d.drop("unknown_event", "unknown event kind", "kind", string(ev.Kind))
	}
}

func (d *Dispatcher) activated(ev Event) {
	args, err := toast.ParseArguments(ev.Arguments)
	if err != nil {
		d.drop("malformed", "dropping activation with malformed arguments", logging.KeyError, err)
		return
	}

	entry, ok := d.store.Take(args.ID)
	if !ok {
		d.drop("unknown", "dropping activation for unknown or consumed id", logging.KeyCorrelationID, args.ID)
		return
	}

	logging.WithCorrelation(log, entry.ID).Info("notification activated", "source", string(args.Source), "action", entry.Action.Kind.String())
	if d.hooks.Activated != nil {
		d.hooks.Activated(entry, args.Source)
	}
}

func (d *Dispatcher) dismissed(id string, reason DismissReason) {
	l := logging.WithCorrelation(log, id)

	if reason == ReasonTimedOut {
		// Still clickable from the notification center.
		if err := d.store.MarkExpired(id, d.now()); err != nil {
			d.drop("unknown", "dropping timeout for unknown id", logging.KeyCorrelationID, id)
			return
		}
		l.Debug("notification moved to notification center")
		if d.hooks.Expired != nil {
			d.hooks.Expired(id)
		}
		return
	}

	entry, ok := d.store.Take(id)
	if !ok {
		d.drop("unknown", "dropping dismissal for unknown or consumed id", logging.KeyCorrelationID, id, "reason", string(reason))
		return
	}
	d.backend.Forget(id)
	l.Info("notification dismissed", "reason", string(reason))
	if d.hooks.Dismissed != nil {
		d.hooks.Dismissed(entry, reason)
	}
}

func (d *Dispatcher) drop(reason, msg string, args ...any) {
	log.Warn(msg, args...)
	if d.hooks.Dropped != nil {
		d.hooks.Dropped(reason)
	}
}

func (d *Dispatcher) setHealth(status health.Status, msg string) {
	if d.monitor != nil {
		d.monitor.Update(health.ComponentBackend, status, msg)
	}
}
