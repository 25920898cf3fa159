//go:build darwin

package dispatch

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/toastd/toastd/internal/toast"
)

// osascriptBackend can display notifications but receives no activation or
// dismissal events; entries are reclaimed by the registry TTL.
type osascriptBackend struct{}

func NewBackend() Backend {
	return osascriptBackend{}
}

func (osascriptBackend) Start(context.Context, Source, func(Event)) error {
	if _, err := exec.LookPath("osascript"); err != nil {
		return fmt.Errorf("osascript not found: %w", err)
	}
	return nil
}

func (osascriptBackend) Show(ctx context.Context, p toast.Payload) error {
	script := `display notification "` + escapeAppleScript(p.Message) + `" with title "` + escapeAppleScript(p.Title) + `"`
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, out)
	}
	return nil
}

func (osascriptBackend) Forget(string) {}

func (osascriptBackend) Close() error { return nil }

// escapeAppleScript escapes a string for an AppleScript double-quoted
// literal. Other control characters are dropped.
func escapeAppleScript(s string) string {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			result = append(result, '\\', '"')
		case ch == '\\':
			result = append(result, '\\', '\\')
		case ch == '\n':
			result = append(result, '\\', 'n')
		case ch == '\r':
			result = append(result, '\\', 'r')
		case ch == '\t':
			result = append(result, '\\', 't')
		case ch < 0x20 || ch == 0x7f:
			continue
		default:
			result = append(result, ch)
		}
	}
	return string(result)
}
