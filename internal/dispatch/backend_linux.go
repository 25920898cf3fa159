//go:build linux

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/toastd/toastd/internal/toast"
)

// notifySendBackend shows each toast with `notify-send --wait`. The process
// prints the chosen action key when the user clicks, and exits silently when
// the notification is closed.
type notifySendBackend struct {
	path    string
	appName string
	emit    func(Event)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewBackend() Backend {
	return &notifySendBackend{}
}

func (b *notifySendBackend) Start(_ context.Context, src Source, emit func(Event)) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return fmt.Errorf("notify-send not found: %w", err)
	}
	b.path = path
	b.appName = src.DisplayName
	b.emit = emit
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

func (b *notifySendBackend) Show(_ context.Context, p toast.Payload) error {
	if b.ctx == nil || b.closing.Load() {
		return errBackendClosed
	}

	cmd := exec.CommandContext(b.ctx, b.path, notifySendArgs(b.appName, p)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start notify-send: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := cmd.Wait()
		if b.closing.Load() {
			return
		}
		if err != nil {
			b.emit(Event{Kind: EventFailed, Tag: p.CorrelationID, Err: strings.TrimSpace(stderr.String() + " " + err.Error())})
			return
		}
		switch strings.TrimSpace(stdout.String()) {
		case "default":
			b.emit(Event{Kind: EventActivated, Tag: p.CorrelationID, Arguments: p.BodyArguments})
		case "button":
			b.emit(Event{Kind: EventActivated, Tag: p.CorrelationID, Arguments: p.ButtonArguments})
		default:
			b.emit(Event{Kind: EventDismissed, Tag: p.CorrelationID, Reason: ReasonUserCanceled})
		}
	}()
	return nil
}

func notifySendArgs(appName string, p toast.Payload) []string {
	args := []string{
		"--app-name=" + appName,
		"--wait",
		// Body clicks invoke "default"; servers that list it as a button show
		// it unlabeled.
		"--action=default=",
		"--action=button=" + p.ButtonLabel,
	}
	if p.Image != nil {
		if p.Image.Placement == toast.PlacementLogo {
			args = append(args, "--icon="+p.Image.Path)
		} else {
			args = append(args, "--hint=string:image-path:"+p.Image.Path)
		}
	}
	return append(args, "--", p.Title, p.Message)
}

// Forget has nothing to drop: a notify-send process ends with its toast.
func (b *notifySendBackend) Forget(string) {}

func (b *notifySendBackend) Close() error {
	if b.cancel == nil {
		return nil
	}
	b.closing.Store(true)
	b.cancel()
	b.wg.Wait()
	return nil
}
