//go:build linux

package actions

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
)

// fileManagerRevealer asks the desktop file manager over D-Bus to select the
// file and falls back to opening the containing folder.
type fileManagerRevealer struct{}

func NewSystemRevealer() Revealer {
	return fileManagerRevealer{}
}

func (fileManagerRevealer) Reveal(ctx context.Context, path string) error {
	uri := (&url.URL{Scheme: "file", Path: path}).String()
	err := exec.CommandContext(ctx, "dbus-send", "--session", "--print-reply",
		"--dest=org.freedesktop.FileManager1", "--type=method_call",
		"/org/freedesktop/FileManager1", "org.freedesktop.FileManager1.ShowItems",
		"array:string:"+uri, "string:").Run()
	if err == nil {
		return nil
	}
	log.Debug("FileManager1.ShowItems failed, falling back to xdg-open", "error", err)

	cmd := exec.Command("xdg-open", filepath.Dir(path))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("reveal %s: %w", path, err)
	}
	go cmd.Wait()
	return nil
}
