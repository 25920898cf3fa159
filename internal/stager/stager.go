// Package stager persists transient notification inputs (images and
// attachments) under a per-process scratch directory so the OS notification
// subsystem and the action executor can reference them by path.
package stager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("stager")

// Kind identifies what a staged file is used for.
type Kind string

const (
	KindImage      Kind = "image"
	KindAttachment Kind = "attachment"
)

const maxNameLength = 128

// Resource is a file persisted by the stager.
type Resource struct {
	Path string
	Kind Kind
	// Name is the sanitized original file name.
	Name string
}

// Stager writes resources below root/<process id>/<request id>/.
type Stager struct {
	root string
	mu   sync.Mutex
	dirs map[string]struct{}
}

// New creates the per-process scratch directory under baseDir.
func New(baseDir string) (*Stager, error) {
	root := filepath.Join(baseDir, uuid.NewString())
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	log.Debug("scratch directory ready", "path", root)
	return &Stager{root: root, dirs: make(map[string]struct{})}, nil
}

// Root returns the per-process scratch directory.
func (s *Stager) Root() string {
	return s.root
}

// Batch groups the resources staged for a single request in their own
// directory, which keeps original file names intact for RevealFiles.
type Batch struct {
	stager    *Stager
	dir       string
	resources []Resource
}

// NewBatch reserves a request-scoped directory.
func (s *Stager) NewBatch() (*Batch, error) {
	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("create request dir: %w", err)
	}
	s.mu.Lock()
	s.dirs[dir] = struct{}{}
	s.mu.Unlock()
	return &Batch{stager: s, dir: dir}, nil
}

// Stage writes data to a collision-free path inside the batch directory.
// Images get a generated name with the original extension; attachments keep
// their sanitized name, suffixed when it repeats within the batch.
func (b *Batch) Stage(data []byte, originalName string, kind Kind) (Resource, error) {
	name := sanitizeName(originalName)
	var fileName string
	switch kind {
	case KindImage:
		fileName = "image-" + uuid.NewString() + strings.ToLower(filepath.Ext(name))
	default:
		fileName = b.uniqueName(name)
	}

	path := filepath.Join(b.dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return Resource{}, fmt.Errorf("create staged file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return Resource{}, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Resource{}, fmt.Errorf("close staged file: %w", err)
	}

	res := Resource{Path: path, Kind: kind, Name: name}
	b.resources = append(b.resources, res)
	return res, nil
}

// Resources returns everything staged so far, in order.
func (b *Batch) Resources() []Resource {
	out := make([]Resource, len(b.resources))
	copy(out, b.resources)
	return out
}

// Dir returns the batch directory.
func (b *Batch) Dir() string {
	return b.dir
}

// Discard removes the batch directory. Used when a request fails before the
// notification is shown.
func (b *Batch) Discard() {
	b.stager.CleanupDir(b.dir)
}

func (b *Batch) uniqueName(name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(b.dir, candidate)); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
}

// Cleanup removes a single staged file. Failures are logged, never returned.
func (s *Stager) Cleanup(res Resource) {
	if !s.owns(res.Path) {
		log.Warn("refusing to remove file outside scratch dir", "path", res.Path)
		return
	}
	if err := os.Remove(res.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove staged file", "path", res.Path, "error", err)
	}
}

// CleanupDir removes a request directory and everything in it.
func (s *Stager) CleanupDir(dir string) {
	if dir == "" || !s.owns(dir) || dir == s.root {
		return
	}
	s.mu.Lock()
	delete(s.dirs, dir)
	s.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove staged directory", "path", dir, "error", err)
	}
}

// Close removes the whole per-process scratch directory.
func (s *Stager) Close() error {
	s.mu.Lock()
	s.dirs = make(map[string]struct{})
	s.mu.Unlock()

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// Pending returns the number of request directories still on disk.
func (s *Stager) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

func (s *Stager) owns(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// sanitizeName strips directory components and characters that are invalid
// in Windows file names.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base("/" + name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" || name == "_" {
		name = "file"
	}
	if len(name) > maxNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxNameLength-len(ext)], "") + ext
	}
	return name
}
