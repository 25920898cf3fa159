package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func shutdown(t *testing.T, p interface{ Shutdown(context.Context) }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestShutdownFinishesQueuedItems(t *testing.T) {
	var sum atomic.Int64
	p := New("sum", 2, 10, func(_ context.Context, n int) { sum.Add(int64(n)) })

	for i := 1; i <= 5; i++ {
		if err := p.Submit(i); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	shutdown(t, p)

	if got := sum.Load(); got != 15 {
		t.Fatalf("sum = %d, want 15", got)
	}
	if err := p.Submit(6); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Shutdown = %v, want ErrClosed", err)
	}
	shutdown(t, p)
}

func TestFullQueueRejects(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := New("block", 1, 1, func(_ context.Context, _ string) {
		started <- struct{}{}
		<-release
	})

	if err := p.Submit("running"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	<-started
	if err := p.Submit("queued"); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if err := p.Submit("extra"); !errors.Is(err, ErrFull) {
		t.Fatalf("third Submit = %v, want ErrFull", err)
	}
	if got := p.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	close(release)
	shutdown(t, p)
	if got := p.Pending(); got != 0 {
		t.Fatalf("Pending after shutdown = %d", got)
	}
}

func TestDeadlineCancelsRunningItem(t *testing.T) {
	aborted := make(chan struct{})
	p := New("hang", 1, 1, func(ctx context.Context, _ struct{}) {
		<-ctx.Done()
		close(aborted)
	})
	p.Submit(struct{}{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	p.Shutdown(ctx)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Shutdown took %v", elapsed)
	}
	select {
	case <-aborted:
	default:
		t.Fatal("running item did not see cancellation")
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	var ran atomic.Int32
	p := New("panic", 1, 4, func(_ context.Context, boom bool) {
		if boom {
			panic("boom")
		}
		ran.Add(1)
	})
	p.Submit(true)
	p.Submit(false)
	shutdown(t, p)

	if ran.Load() != 1 {
		t.Fatalf("item after panic ran %d times, want 1", ran.Load())
	}
}
