// Package activation holds the process-wide table of pending notification
// actions, keyed by correlation id.
package activation

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("activation")

var (
	// ErrDuplicateID is returned by Insert when the id is already pending.
	ErrDuplicateID = errors.New("activation: duplicate correlation id")
	// ErrUnknownID is returned when an id is not (or no longer) registered.
	ErrUnknownID = errors.New("activation: unknown correlation id")
)

// Store is the registry contract used by the dispatcher and the HTTP
// pipeline. Registry is the production implementation.
type Store interface {
	Insert(entry Entry) error
	// Take atomically removes and returns the entry. A second Take for the
	// same id reports false.
	Take(id string) (Entry, bool)
	MarkDisplayed(id string) error
	MarkExpired(id string, at time.Time) error
	// PurgeExpired removes entries that expired or were created before the
	// cutoff and returns them so their resources can be released.
	PurgeExpired(cutoff time.Time) []Entry
	// Drain removes and returns every entry.
	Drain() []Entry
	Len() int
}

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// Registry is a sharded, mutex-protected map. Operations on one id are
// mutually exclusive; ids in different shards never contend.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

func (r *Registry) Insert(entry Entry) error {
	if entry.ID == "" {
		return ErrUnknownID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s := r.shardFor(entry.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return ErrDuplicateID
	}
	s.entries[entry.ID] = entry
	logging.WithCorrelation(log, entry.ID).Debug("entry registered", "action", entry.Action.Kind.String())
	return nil
}

func (r *Registry) Take(id string) (Entry, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, id)
	return entry, true
}

func (r *Registry) MarkDisplayed(id string) error {
	return r.update(id, func(e *Entry) {
		if e.State == Built {
			e.State = Displayed
		}
	})
}

func (r *Registry) MarkExpired(id string, at time.Time) error {
	return r.update(id, func(e *Entry) {
		e.State = Expired
		e.ExpiredAt = at
	})
}

func (r *Registry) update(id string, fn func(*Entry)) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrUnknownID
	}
	fn(&entry)
	s.entries[id] = entry
	return nil
}

func (r *Registry) PurgeExpired(cutoff time.Time) []Entry {
	var purged []Entry
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			expired := e.State == Expired && !e.ExpiredAt.After(cutoff)
			if expired || e.CreatedAt.Before(cutoff) {
				purged = append(purged, e)
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
	if len(purged) > 0 {
		log.Info("purged stale entries", "count", len(purged))
	}
	return purged
}

func (r *Registry) Drain() []Entry {
	var drained []Entry
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			drained = append(drained, e)
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
	return drained
}

func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
