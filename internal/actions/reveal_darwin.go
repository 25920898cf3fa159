//go:build darwin

package actions

import (
	"context"
	"fmt"
	"os/exec"
)

type finderRevealer struct{}

func NewSystemRevealer() Revealer {
	return finderRevealer{}
}

func (finderRevealer) Reveal(ctx context.Context, path string) error {
	if err := exec.CommandContext(ctx, "open", "-R", path).Run(); err != nil {
		return fmt.Errorf("reveal %s: %w", path, err)
	}
	return nil
}
