//go:build !windows && !linux && !darwin

package dispatch

import (
	"context"
	"errors"
	"runtime"

	"github.com/toastd/toastd/internal/toast"
)

type unsupportedBackend struct{}

func NewBackend() Backend {
	return unsupportedBackend{}
}

func (unsupportedBackend) Start(context.Context, Source, func(Event)) error {
	return errors.New("desktop notifications are not supported on " + runtime.GOOS)
}

func (unsupportedBackend) Show(context.Context, toast.Payload) error {
	return errBackendClosed
}

func (unsupportedBackend) Forget(string) {}

func (unsupportedBackend) Close() error { return nil }
