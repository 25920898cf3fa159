package authgate

import (
	"sync"
	"time"
)

// maxTrackedKeys bounds the limiter's memory when many distinct addresses fail.
const maxTrackedKeys = 10000

// FailureLimiter counts failed authentication attempts per remote address in
// a sliding window.
type FailureLimiter struct {
	maxFailures int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time
}

func NewFailureLimiter(maxFailures int, window time.Duration) *FailureLimiter {
	return &FailureLimiter{
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
		failures:    make(map[string][]time.Time),
	}
}

// Blocked reports whether key has used up its failures for the window.
func (l *FailureLimiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(key)) >= l.maxFailures
}

// RecordFailure adds a failed attempt for key.
func (l *FailureLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, tracked := l.failures[key]; !tracked && len(l.failures) >= maxTrackedKeys {
		for k := range l.failures {
			if len(l.pruneLocked(k)) == 0 {
				delete(l.failures, k)
			}
		}
	}
	l.failures[key] = append(l.pruneLocked(key), l.now())
}

// Reset forgets failures for key after a successful login.
func (l *FailureLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

func (l *FailureLimiter) pruneLocked(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	existing := l.failures[key]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = pruned
	return pruned
}
