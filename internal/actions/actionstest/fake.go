// Package actionstest provides recording stand-ins for the side effects of
// notification actions.
package actionstest

import (
	"context"
	"sync"

	"github.com/toastd/toastd/internal/actions"
)

// Recorder implements actions.Runner, clipboard.Writer and actions.Revealer.
// Every call is recorded and announced on Calls.
type Recorder struct {
	mu       sync.Mutex
	commands []string
	copied   []string
	revealed []string

	// ExitCode is reported for every spawned command.
	ExitCode int
	Err      error
	Calls    chan string
}

func NewRecorder() *Recorder {
	return &Recorder{Calls: make(chan string, 64)}
}

func (r *Recorder) Spawn(command string, exited func(actions.RunResult)) error {
	r.record(&r.commands, command)
	if r.Err != nil {
		return r.Err
	}
	if exited != nil {
		exited(actions.RunResult{ExitCode: r.ExitCode})
	}
	return nil
}

func (r *Recorder) WriteText(_ context.Context, text string) error {
	r.record(&r.copied, text)
	return r.Err
}

func (r *Recorder) Reveal(_ context.Context, path string) error {
	r.record(&r.revealed, path)
	return r.Err
}

func (r *Recorder) record(dst *[]string, v string) {
	r.mu.Lock()
	*dst = append(*dst, v)
	r.mu.Unlock()
	select {
	case r.Calls <- v:
	default:
	}
}

func (r *Recorder) Commands() []string { return r.snapshot(&r.commands) }
func (r *Recorder) Copied() []string   { return r.snapshot(&r.copied) }
func (r *Recorder) Revealed() []string { return r.snapshot(&r.revealed) }

func (r *Recorder) snapshot(src *[]string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), *src...)
}

// Executor returns an executor whose side effects all go to r.
func (r *Recorder) Executor() *actions.Executor {
	return actions.New(actions.Options{
		Workers:   2,
		QueueSize: 16,
		Runner:    r,
		Clipboard: r,
		Revealer:  r,
	})
}
