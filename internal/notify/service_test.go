package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/toastd/toastd/internal/actions/actionstest"
	"github.com/toastd/toastd/internal/activation"
	"github.com/toastd/toastd/internal/dispatch"
	"github.com/toastd/toastd/internal/dispatch/dispatchtest"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/stager"
	"github.com/toastd/toastd/internal/toast"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	gifBytes = append([]byte("GIF89a"), make([]byte, 32)...)
)

type fixture struct {
	svc      *Service
	backend  *dispatchtest.Backend
	store    *activation.Registry
	stager   *stager.Stager
	recorder *actionstest.Recorder
}

func newFixture(t *testing.T, retention time.Duration) *fixture {
	t.Helper()
	st, err := stager.New(t.TempDir())
	if err != nil {
		t.Fatalf("stager.New: %v", err)
	}
	f := &fixture{
		backend:  dispatchtest.New(),
		store:    activation.NewRegistry(),
		stager:   st,
		recorder: actionstest.NewRecorder(),
	}
	f.svc = New(Options{
		Stager:              st,
		Store:               f.store,
		Backend:             f.backend,
		Source:              dispatch.Source{AppID: "Test.App", DisplayName: "Test"},
		Executor:            f.recorder.Executor(),
		Monitor:             health.NewMonitor(),
		AttachmentRetention: retention,
		EntryTTL:            time.Hour,
		PurgeInterval:       time.Hour,
	})
	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { f.svc.Shutdown(context.Background()) })
	return f
}

func (f *fixture) submit(t *testing.T, req Request) toast.Payload {
	t.Helper()
	rec, err := f.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p, ok := f.backend.Last()
	if !ok || p.CorrelationID != rec.ID {
		t.Fatalf("backend did not receive %s", rec.ID)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitRegistersCopyText(t *testing.T) {
	f := newFixture(t, 0)
	rec, err := f.svc.Submit(context.Background(), Request{Title: "Hello", Message: "World"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Action != "copy_text" {
		t.Fatalf("action = %q", rec.Action)
	}
	if f.store.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", f.store.Len())
	}
	e, ok := f.store.Take(rec.ID)
	if !ok {
		t.Fatal("entry not registered under the receipt id")
	}
	if e.Action.Kind != activation.CopyText || e.Action.Text != "World" {
		t.Fatalf("unexpected action %+v", e.Action)
	}
	if e.State != activation.Displayed {
		t.Fatalf("state = %s", e.State)
	}
	if f.stager.Pending() != 0 {
		t.Fatal("a request without files must not create a staging dir")
	}
}

func TestActivationRunsExactCommand(t *testing.T) {
	f := newFixture(t, 0)
	p := f.submit(t, Request{Title: "Run", Message: "m", CallbackCommand: "echo hi"})

	f.backend.Click(p)
	f.backend.ClickButton(p)

	select {
	case <-f.recorder.Calls:
	case <-time.After(5 * time.Second):
		t.Fatal("command was not run")
	}
	f.svc.executor.Shutdown(context.Background())

	cmds := f.recorder.Commands()
	if len(cmds) != 1 || cmds[0] != "echo hi" {
		t.Fatalf("commands = %q, want exactly [\"echo hi\"]", cmds)
	}
	if len(f.recorder.Copied()) != 0 || len(f.recorder.Revealed()) != 0 {
		t.Fatal("no other action may run")
	}
}

func TestValidationRejectsBeforeStaging(t *testing.T) {
	f := newFixture(t, 0)
	cases := []Request{
		{Title: "   ", Message: "m"},
		{Title: "t", Message: ""},
		{Title: "t", Message: "m", Image: &Image{Data: pngBytes, Placement: "sideways"}},
		{Title: "t", Message: "m", Attachments: []Attachment{{Name: "", Data: []byte("x")}}},
	}
	for i, req := range cases {
		_, err := f.svc.Submit(context.Background(), req)
		if KindOf(err) != KindValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if f.stager.Pending() != 0 || len(f.backend.Shown()) != 0 || f.store.Len() != 0 {
		t.Fatal("rejected requests must leave no trace")
	}
}

func TestValidationNamesField(t *testing.T) {
	err := (&Request{Title: "t", Message: " "}).Validate()
	if err == nil || err.Error() != "validation: field 'message' failed 'notblank'" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestImageTypeChecks(t *testing.T) {
	tests := []struct {
		name string
		img  Image
		ok   bool
	}{
		{"png sniffed", Image{Data: pngBytes}, true},
		{"png declared", Image{Data: pngBytes, ContentType: "image/png"}, true},
		{"gif with params", Image{Data: gifBytes, ContentType: "image/gif; charset=binary"}, true},
		{"octet stream", Image{Data: pngBytes, ContentType: "application/octet-stream"}, true},
		{"mismatch", Image{Data: pngBytes, ContentType: "image/jpeg"}, false},
		{"text", Image{Data: []byte("hello world")}, false},
		{"empty", Image{Data: []byte{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Title: "t", Message: "m", Image: &tt.img}
			err := req.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnsupportedImage) {
				t.Fatalf("expected ErrUnsupportedImage, got %v", err)
			}
		})
	}
}

func TestImageIsStagedWithPlacement(t *testing.T) {
	f := newFixture(t, 0)
	p := f.submit(t, Request{Title: "t", Message: "m", Image: &Image{Data: pngBytes, Placement: "logo", Name: "avatar"}})

	if p.Image == nil || p.Image.Placement != toast.PlacementLogo {
		t.Fatalf("image = %+v", p.Image)
	}
	if filepath.Ext(p.Image.Path) != ".png" {
		t.Fatalf("staged image %q lost its extension", p.Image.Path)
	}
	if _, err := os.Stat(p.Image.Path); err != nil {
		t.Fatalf("staged image missing: %v", err)
	}
}

func TestShowFailureDiscardsStagedFiles(t *testing.T) {
	f := newFixture(t, 0)
	f.backend.ShowErr = errors.New("rejected by OS")

	_, err := f.svc.Submit(context.Background(), Request{
		Title: "t", Message: "m",
		Attachments: []Attachment{{Name: "report.txt", Data: []byte("data")}},
	})
	if KindOf(err) != KindDispatch || !errors.Is(err, dispatch.ErrShowFailed) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if f.stager.Pending() != 0 {
		t.Fatal("staged files must be removed when display fails")
	}
	if f.store.Len() != 0 {
		t.Fatal("no entry may survive a failed display")
	}
}

func TestSubmitBeforeStartNotReady(t *testing.T) {
	svc := New(Options{Backend: dispatchtest.New()})
	_, err := svc.Submit(context.Background(), Request{Title: "t", Message: "m"})
	if KindOf(err) != KindDispatch || !errors.Is(err, dispatch.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestDismissalCleansStagingDir(t *testing.T) {
	f := newFixture(t, 0)
	p := f.submit(t, Request{Title: "t", Message: "m", Attachments: []Attachment{{Name: "a.txt", Data: []byte("a")}}})
	if f.stager.Pending() != 1 {
		t.Fatal("attachment should be staged")
	}

	f.backend.Dismiss(p, dispatch.ReasonUserCanceled)
	if f.stager.Pending() != 0 {
		t.Fatal("dismissal must remove staged files")
	}
}

func TestRevealedAttachmentsOutliveActivation(t *testing.T) {
	f := newFixture(t, time.Hour)
	p := f.submit(t, Request{Title: "t", Message: "m", Attachments: []Attachment{{Name: "a.txt", Data: []byte("a")}}})

	f.backend.Click(p)
	select {
	case path := <-f.recorder.Calls:
		if filepath.Base(path) != "a.txt" {
			t.Fatalf("revealed %q", path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("files were not revealed")
	}
	f.svc.executor.Shutdown(context.Background())

	if f.stager.Pending() != 1 {
		t.Fatal("revealed attachments must stay on disk during retention")
	}
	f.svc.mu.Lock()
	retained := len(f.svc.retained)
	f.svc.mu.Unlock()
	if retained != 1 {
		t.Fatalf("retention timers = %d", retained)
	}
}

func TestCopyActivationReleasesFilesImmediately(t *testing.T) {
	f := newFixture(t, time.Hour)
	p := f.submit(t, Request{Title: "t", Message: "m", Image: &Image{Data: gifBytes}})

	f.backend.Click(p)
	waitFor(t, "staging cleanup", func() bool { return f.stager.Pending() == 0 })
	if got := f.recorder.Copied(); len(got) != 1 || got[0] != "m" {
		t.Fatalf("copied = %q", got)
	}
}

func TestPurgeRemovesStaleEntries(t *testing.T) {
	f := newFixture(t, 0)
	old := f.submit(t, Request{Title: "old", Message: "m", Attachments: []Attachment{{Name: "a", Data: []byte("a")}}})

	if n := f.svc.purge(time.Now()); n != 0 {
		t.Fatalf("fresh entries purged: %d", n)
	}
	if n := f.svc.purge(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if f.store.Len() != 0 || f.stager.Pending() != 0 {
		t.Fatal("purge must remove the entry and its files")
	}
	if forgotten := f.backend.Forgotten(); len(forgotten) != 1 || forgotten[0] != old.CorrelationID {
		t.Fatalf("forgotten = %v", forgotten)
	}
}

func TestEventsFeed(t *testing.T) {
	f := newFixture(t, 0)
	events, unsubscribe := f.svc.Events().Subscribe()
	defer unsubscribe()

	p := f.submit(t, Request{Title: "t", Message: "m"})
	f.backend.Dismiss(p, dispatch.ReasonTimedOut)
	f.backend.Emit(dispatch.Event{Kind: dispatch.EventFailed, Tag: p.CorrelationID, Err: "gone"})

	want := []EventType{EventShown, EventExpired, EventFailed}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type != typ || ev.CorrelationID != p.CorrelationID {
				t.Fatalf("got %+v, want %s", ev, typ)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("missing %s event", typ)
		}
	}
}

func TestShutdownReapsEverything(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t, Request{Title: "a", Message: "m", Attachments: []Attachment{{Name: "a", Data: []byte("a")}}})
	f.submit(t, Request{Title: "b", Message: "m"})

	if err := f.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("registry must be empty after shutdown")
	}
	if _, err := os.Stat(f.stager.Root()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present: %v", err)
	}
	if !f.backend.Closed() || f.svc.Ready() {
		t.Fatal("backend must be closed")
	}
}
