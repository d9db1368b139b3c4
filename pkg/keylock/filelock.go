package keylock

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileKeyLock is the cross-process variant: mutual exclusion among independent
// OS processes, backed by one flock-ed file per key under a lock directory.
// The OS releases a file lock when its holder dies, so a crashed holder never
// wedges other processes. Within one process, acquisitions of the same key are
// additionally serialized by a per-key mutex, since flock(2) is advisory per
// file description, not per goroutine.
type FileKeyLock struct {
	dir     string
	mu      sync.Mutex
	entries map[string]*fileEntry
}

type fileEntry struct {
	mu   sync.Mutex
	fl   *flock.Flock
	refs int
}

// NewFileKeyLock creates a cross-process keyed lock arena rooted at dir.
// It fails if the directory cannot be created, rather than degrading to
// in-process semantics.
func NewFileKeyLock(dir string) (*FileKeyLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty lock directory", ErrLockAcquisition)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create lock directory %s: %v", ErrLockAcquisition, dir, err)
	}
	return &FileKeyLock{dir: dir, entries: make(map[string]*fileEntry)}, nil
}

// Dir returns the lock directory.
func (l *FileKeyLock) Dir() string {
	return l.dir
}

// Acquire blocks until the file lock for key is held by this process and
// goroutine, and returns its handle. An empty key is rejected, and failures
// to create the lock file (permissions, removed directory) are reported.
func (l *FileKeyLock) Acquire(key string) (Handle, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrLockAcquisition)
	}

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &fileEntry{fl: flock.New(filepath.Join(l.dir, lockFileName(key)))}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	if err := e.fl.Lock(); err != nil {
		e.mu.Unlock()
		l.release(key, e, false)
		return nil, fmt.Errorf("%w: key %q: %v", ErrLockAcquisition, key, err)
	}
	return &fileHandle{owner: l, key: key, entry: e}, nil
}

// Clear drops all cached lock entries and removes their lock files. It is
// only safe when no holder is active; callers must guarantee quiescence
// across every participating process.
func (l *FileKeyLock) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if e.refs > 0 {
			return fmt.Errorf("%w: key %q", ErrLocksHeld, key)
		}
	}
	for key, e := range l.entries {
		_ = e.fl.Close()
		_ = os.Remove(filepath.Join(l.dir, lockFileName(key)))
	}
	l.entries = make(map[string]*fileEntry)
	return nil
}

func (l *FileKeyLock) release(key string, e *fileEntry, unlock bool) {
	if unlock {
		_ = e.fl.Unlock()
		e.mu.Unlock()
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		_ = e.fl.Close()
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

type fileHandle struct {
	owner *FileKeyLock
	key   string
	entry *fileEntry
	once  sync.Once
}

// Release drops the file lock and reclaims the entry if this was the last
// holder in this process.
func (h *fileHandle) Release() {
	h.once.Do(func() {
		h.owner.release(h.key, h.entry, true)
	})
}

// lockFileName maps an arbitrary key to a safe file name. Path separators and
// traversal sequences must not leak into the lock directory layout; a hash of
// the raw key keeps distinct keys from sharing a lock file after flattening.
func lockFileName(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_", " ", "_")
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("%s-%08x.lock", r.Replace(key), h.Sum32())
}
