//go:build !windows

package clipboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCommandWriterPipesText(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clip.txt")
	w := &commandWriter{candidates: [][]string{
		{"toastd-no-such-helper"},
		{"sh", "-c", "cat > " + out},
	}}

	if err := w.WriteText(context.Background(), "World & <friends>"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "World & <friends>" {
		t.Fatalf("clipboard text = %q", got)
	}
}

func TestCommandWriterAllFail(t *testing.T) {
	w := &commandWriter{candidates: [][]string{
		{"toastd-no-such-helper"},
		{"sh", "-c", "exit 3"},
	}}
	err := w.WriteText(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommandWriterNoCandidates(t *testing.T) {
	w := &commandWriter{}
	if err := w.WriteText(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommandWriterDoesNotWaitForForkedOwner(t *testing.T) {
	w := &commandWriter{candidates: [][]string{
		{"sh", "-c", "cat >/dev/null; (sleep 8) & exit 0"},
	}}

	start := time.Now()
	if err := w.WriteText(context.Background(), "x"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("WriteText blocked on the forked child for %v", elapsed)
	}
}
