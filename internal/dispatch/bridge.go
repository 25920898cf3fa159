package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// The toast bridge is a helper process that owns the native notifier. It
// reads one JSON command per line on stdin and writes one JSON message per
// line on stdout.

const (
	bridgeShowTimeout  = 10 * time.Second
	bridgeMaxLineBytes = 1 << 20
)

var errBackendClosed = errors.New("notification backend is not running")

type bridgeCommand struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
	XML  string `json:"xml,omitempty"`
}

type bridgeMessage struct {
	Type      string `json:"type"`
	Tag       string `json:"tag,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type bridge struct {
	emit func(Event)

	wmu sync.Mutex
	w   io.Writer

	mu      sync.Mutex
	pending map[string]chan error

	showTimeout time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closing   atomic.Bool
}

func newBridge(w io.Writer, emit func(Event)) *bridge {
	return &bridge{
		emit:        emit,
		w:           w,
		pending:     make(map[string]chan error),
		showTimeout: bridgeShowTimeout,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// readLoop consumes bridge output until r is exhausted.
func (b *bridge) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), bridgeMaxLineBytes)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg bridgeMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn("ignoring unparseable bridge output", "line", truncate(string(line), 200))
			continue
		}
		b.handle(msg)
	}

	exitErr := "bridge output closed"
	if err := sc.Err(); err != nil {
		exitErr = err.Error()
	}
	b.shutdown(exitErr)
}

func (b *bridge) handle(msg bridgeMessage) {
	switch msg.Type {
	case "ready":
		b.readyOnce.Do(func() { close(b.ready) })
	case "shown":
		b.resolve(msg.Tag, nil)
	case "error":
		b.resolve(msg.Tag, errors.New(msg.Error))
	case "activated":
		b.emit(Event{Kind: EventActivated, Tag: msg.Tag, Arguments: msg.Arguments})
	case "dismissed":
		b.emit(Event{Kind: EventDismissed, Tag: msg.Tag, Reason: DismissReason(msg.Reason)})
	case "failed":
		b.emit(Event{Kind: EventFailed, Tag: msg.Tag, Err: msg.Error})
	case "log":
		log.Debug("bridge", "message", msg.Error)
	default:
		log.Warn("unknown bridge message", "type", msg.Type)
	}
}

func (b *bridge) resolve(tag string, err error) {
	b.mu.Lock()
	ch, ok := b.pending[tag]
	delete(b.pending, tag)
	b.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (b *bridge) shutdown(reason string) {
	select {
	case <-b.done:
		return
	default:
	}
	close(b.done)

	b.mu.Lock()
	for tag, ch := range b.pending {
		ch <- errBackendClosed
		delete(b.pending, tag)
	}
	b.mu.Unlock()

	if !b.closing.Load() {
		b.emit(Event{Kind: EventBackendExited, Err: reason})
	}
}

func (b *bridge) waitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-b.done:
		return errBackendClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for toast bridge: %w", ctx.Err())
	}
}

func (b *bridge) send(cmd bridgeCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, err = b.w.Write(data)
	return err
}

// show submits a toast and waits for the bridge to confirm the notifier
// accepted it. A show that is not acknowledged in time is withdrawn so the
// toast cannot appear after its entry is gone.
func (b *bridge) show(ctx context.Context, tag, xml string) error {
	ch := make(chan error, 1)
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return errBackendClosed
	default:
	}
	b.pending[tag] = ch
	b.mu.Unlock()

	if err := b.send(bridgeCommand{Type: "show", Tag: tag, XML: xml}); err != nil {
		b.drop(tag)
		return fmt.Errorf("write to toast bridge: %w", err)
	}

	timer := time.NewTimer(b.showTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		b.drop(tag)
		b.withdraw(tag)
		return ctx.Err()
	case <-timer.C:
		b.drop(tag)
		b.withdraw(tag)
		return errors.New("toast bridge did not acknowledge the notification")
	}
}

func (b *bridge) drop(tag string) {
	b.mu.Lock()
	delete(b.pending, tag)
	b.mu.Unlock()
}

func (b *bridge) forget(tag string) {
	if err := b.send(bridgeCommand{Type: "forget", Tag: tag}); err != nil {
		log.Debug("forget not delivered to bridge", "tag", tag, "error", err)
	}
}

// withdraw hides the toast if the notifier already shows it and drops its
// callbacks. The bridge handles commands in order, so a withdraw sent after a
// slow show still lands after it.
func (b *bridge) withdraw(tag string) {
	if err := b.send(bridgeCommand{Type: "withdraw", Tag: tag}); err != nil {
		log.Debug("withdraw not delivered to bridge", "tag", tag, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
