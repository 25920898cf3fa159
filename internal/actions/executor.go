// Package actions runs the action bound to an activated notification on a
// background worker pool: run a shell command, copy text to the clipboard, or
// reveal attachments in the file browser.
//
// Callback commands come from whoever could reach POST /notify. They run with
// the server user's privileges and are not sandboxed.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/toastd/toastd/internal/activation"
	"github.com/toastd/toastd/internal/clipboard"
	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/workerpool"
)

var log = logging.L("actions")

var (
	// ErrQueueFull is returned when the action could not be scheduled.
	ErrQueueFull = errors.New("actions: queue full")
	// ErrStopped is returned for jobs submitted after Shutdown.
	ErrStopped = errors.New("actions: executor stopped")
	// ErrNoFiles is returned by RevealFiles when none of the paths exist.
	ErrNoFiles = errors.New("actions: no revealable files")
)

// Runner starts a command line through the platform shell and returns once
// the process is running. exited, when set, is called from another goroutine
// after the process ends.
type Runner interface {
	Spawn(command string, exited func(RunResult)) error
}

// Revealer opens a file browser with path selected.
type Revealer interface {
	Reveal(ctx context.Context, path string) error
}

// Job is one action to perform. Done, when set, is called exactly once after
// the action finished, failed or was rejected.
type Job struct {
	ID     string
	Action activation.Action
	Done   func(err error)
}

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds a clipboard write or reveal. Callback commands are
	// spawned and never bounded.
	Timeout   time.Duration
	Runner    Runner
	Clipboard clipboard.Writer
	Revealer  Revealer
}

// Executor schedules jobs on a bounded pool so a hanging command never
// blocks the activation path.
type Executor struct {
	pool     *workerpool.Pool[Job]
	timeout  time.Duration
	runner   Runner
	clip     clipboard.Writer
	revealer Revealer
}

func New(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Runner == nil {
		opts.Runner = ShellRunner{}
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.NewSystem()
	}
	if opts.Revealer == nil {
		opts.Revealer = NewSystemRevealer()
	}
	e := &Executor{
		timeout:  opts.Timeout,
		runner:   opts.Runner,
		clip:     opts.Clipboard,
		revealer: opts.Revealer,
	}
	e.pool = workerpool.New("actions", opts.Workers, opts.QueueSize, e.handle)
	return e
}

// Execute schedules the job and returns immediately.
func (e *Executor) Execute(job Job) error {
	err := e.pool.Submit(job)
	if err == nil {
		return nil
	}
	if errors.Is(err, workerpool.ErrClosed) {
		err = ErrStopped
	} else {
		err = ErrQueueFull
	}
	logging.WithCorrelation(log, job.ID).Warn("action rejected", "action", job.Action.Kind.String(), logging.KeyError, err)
	if job.Done != nil {
		job.Done(err)
	}
	return err
}

// Pending returns the number of queued and running actions.
func (e *Executor) Pending() int {
	return e.pool.Pending()
}

func (e *Executor) handle(ctx context.Context, job Job) {
	err := e.run(ctx, job)
	if job.Done != nil {
		job.Done(err)
	}
}

// Shutdown waits for running actions until ctx expires, then cancels what is
// left. Spawned callback commands keep running.
func (e *Executor) Shutdown(ctx context.Context) {
	e.pool.Shutdown(ctx)
}

func (e *Executor) run(parent context.Context, job Job) (err error) {
	l := logging.WithCorrelation(log, job.ID).With("action", job.Action.Kind.String())
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
		if err != nil {
			l.Warn("action failed", logging.KeyError, err, logging.KeyDurationMs, time.Since(start).Milliseconds())
		} else {
			l.Info("action completed", logging.KeyDurationMs, time.Since(start).Milliseconds())
		}
	}()

	switch job.Action.Kind {
	case activation.RunCommand:
		l.Debug("spawning callback command", "length", len(job.Action.Command))
		return e.runner.Spawn(job.Action.Command, func(res RunResult) {
			if res.ExitCode != 0 {
				l.Warn("callback command exited", "exitCode", res.ExitCode, logging.KeyDurationMs, res.Duration.Milliseconds())
				return
			}
			l.Debug("callback command exited", logging.KeyDurationMs, res.Duration.Milliseconds())
		})

	case activation.CopyText:
		return e.clip.WriteText(ctx, job.Action.Text)

	case activation.RevealFiles:
		return e.reveal(ctx, l, job.Action.Paths)

	default:
		return fmt.Errorf("unknown action kind %s", job.Action.Kind)
	}
}

func (e *Executor) reveal(ctx context.Context, l *slog.Logger, paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			l.Warn("attachment missing, skipping", "path", p, logging.KeyError, err)
			continue
		}
		return e.revealer.Reveal(ctx, p)
	}
	return ErrNoFiles
}
