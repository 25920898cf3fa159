package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 3
	backupStamp       = "20060102-150405.000000"
)

// RotatingWriter appends to a log file and, once the file would exceed the
// size cap, renames it to <path>.<timestamp> and starts a fresh one. Only the
// newest maxBackups renamed files are kept.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int

	f    *os.File
	size int64
	now  func() time.Time
}

func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		now:        time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Backups lists the rotated files, oldest first.
func (w *RotatingWriter) Backups() []string {
	matches, _ := filepath.Glob(w.path + ".*")
	sort.Strings(matches)
	return matches
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	w.f.Close()
	w.f = nil

	backup := w.path + "." + w.now().UTC().Format(backupStamp)
	if err := os.Rename(w.path, backup); err != nil {
		if oerr := w.open(); oerr != nil {
			return oerr
		}
		return err
	}
	if old := w.Backups(); len(old) > w.maxBackups {
		for _, name := range old[:len(old)-w.maxBackups] {
			os.Remove(name)
		}
	}
	return w.open()
}
