package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerCreatedBeforeSetup(t *testing.T) {
	logger := L("server")

	var buf bytes.Buffer
	Setup(Options{Format: "text", Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("listening", "addr", "127.0.0.1:3000")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record passed a warn level: %s", out)
	}
	for _, want := range []string{"msg=listening", "component=server", "addr=127.0.0.1:3000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %s", want, out)
		}
	}
}

func TestGroupsAndAttrsKeepOrder(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Format: "json", Level: "debug", Output: &buf})

	L("dispatch").WithGroup("toast").With("scenario", "reminder").Debug("shown")

	out := buf.String()
	if !strings.Contains(out, `"component":"dispatch"`) {
		t.Fatalf("component should stay outside the group: %s", out)
	}
	if !strings.Contains(out, `"toast":{"scenario":"reminder"}`) {
		t.Fatalf("attr should land inside the group: %s", out)
	}
}

func TestSecretsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Format: "json", Level: "info", Output: &buf})

	L("authgate").Info("login", "user", "admin", "password", "hunter2")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked: %s", out)
	}
	if !strings.Contains(out, `"password":"[REDACTED]"`) {
		t.Fatalf("expected redacted password: %s", out)
	}
}

func TestCorrelationAndContext(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Format: "json", Level: "debug", Output: &buf})

	l := WithCorrelation(L("activation"), "01HZX")
	ctx := NewContext(context.Background(), l)
	FromContext(ctx).Debug("entry inserted")

	if !strings.Contains(buf.String(), `"correlationId":"01HZX"`) {
		t.Fatalf("expected correlationId in output: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil for an empty context")
	}
}

func TestRotatingWriterKeepsNewestBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toastd.log")
	w, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	chunk := bytes.Repeat([]byte("x"), 600<<10)
	for i := 0; i < 5; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	backups := w.Backups()
	if len(backups) != 2 {
		t.Fatalf("backups = %v, want 2 files", backups)
	}
	if !strings.HasSuffix(backups[1], "20260101-000004.000000") {
		t.Fatalf("newest backup = %s, want the fourth rotation", backups[1])
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("current log size = %d, want %d", info.Size(), len(chunk))
	}
}
