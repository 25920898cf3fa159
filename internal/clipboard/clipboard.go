// Package clipboard writes text to the desktop clipboard of the logged-in
// user.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("clipboard")

// ErrUnavailable is returned when no clipboard mechanism works on this host.
var ErrUnavailable = errors.New("clipboard: unavailable")

// Writer sets the clipboard to a text value.
type Writer interface {
	WriteText(ctx context.Context, text string) error
}

const (
	commandTimeout = 5 * time.Second
	// pipeGrace bounds how long a helper that exited may leave its stderr
	// open. xclip and xsel fork a child that owns the selection and inherits
	// the pipe.
	pipeGrace = time.Second
)

// commandWriter pipes text into the first helper program that succeeds.
type commandWriter struct {
	candidates [][]string
}

func (w *commandWriter) WriteText(ctx context.Context, text string) error {
	if len(w.candidates) == 0 {
		return ErrUnavailable
	}

	var errs []error
	for _, argv := range w.candidates {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			errs = append(errs, err)
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		cmd := exec.CommandContext(runCtx, path, argv[1:]...)
		cmd.Stdin = strings.NewReader(text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = pipeGrace
		err = cmd.Run()
		cancel()
		if err == nil || errors.Is(err, exec.ErrWaitDelay) {
			log.Debug("clipboard updated", "helper", argv[0], "length", len(text))
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String())))
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}
