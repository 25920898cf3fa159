//go:build !windows && !linux && !darwin

package actions

import (
	"context"
	"errors"
)

type unsupportedRevealer struct{}

func NewSystemRevealer() Revealer {
	return unsupportedRevealer{}
}

func (unsupportedRevealer) Reveal(context.Context, string) error {
	return errors.New("actions: revealing files is not supported on this platform")
}
