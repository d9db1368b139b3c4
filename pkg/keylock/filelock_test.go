package keylock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileKeyLockCreateFails(t *testing.T) {
	if _, err := NewFileKeyLock(""); !errors.Is(err, ErrLockAcquisition) {
		t.Errorf("Expected ErrLockAcquisition for empty directory, got %v", err)
	}

	// A file standing where the lock directory should be makes creation fail.
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}
	if _, err := NewFileKeyLock(filepath.Join(blocker, "locks")); !errors.Is(err, ErrLockAcquisition) {
		t.Errorf("Expected ErrLockAcquisition, got %v", err)
	}
}

func TestFileKeyLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()

	// Two independent arenas over the same directory model two supervisor
	// instances sharing a named resource.
	l1, err := NewFileKeyLock(dir)
	if err != nil {
		t.Fatalf("NewFileKeyLock failed: %v", err)
	}
	l2, err := NewFileKeyLock(dir)
	if err != nil {
		t.Fatalf("NewFileKeyLock failed: %v", err)
	}

	const workers = 8
	const increments = 20

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		arena := l1
		if i%2 == 1 {
			arena = l2
		}
		go func(a *FileKeyLock) {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				h, err := a.Acquire("shared")
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				v := counter
				v++
				counter = v
				h.Release()
			}
		}(arena)
	}
	wg.Wait()

	if counter != workers*increments {
		t.Errorf("Expected counter %d, got %d", workers*increments, counter)
	}
}

func TestFileKeyLockCreatesLockFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileKeyLock(dir)
	if err != nil {
		t.Fatalf("NewFileKeyLock failed: %v", err)
	}

	h, err := l.Acquire("db/main")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	// Keys with path separators must stay inside the lock directory.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly one lock file, got %d", len(entries))
	}
	if want := lockFileName("db/main"); entries[0].Name() != want {
		t.Errorf("Expected lock file %q, got %q", want, entries[0].Name())
	}
	if strings.ContainsAny(entries[0].Name(), "/\\") {
		t.Errorf("Lock file name escapes the directory: %q", entries[0].Name())
	}
}

func TestLockFileNamesDistinct(t *testing.T) {
	// Flattening path separators must not fold distinct keys onto one file.
	if lockFileName("a/b") == lockFileName("a_b") {
		t.Error("Distinct keys share a lock file name")
	}
}

func TestFileKeyLockSameKeyBlocksAcrossArenas(t *testing.T) {
	dir := t.TempDir()
	l1, _ := NewFileKeyLock(dir)
	l2, _ := NewFileKeyLock(dir)

	h1, err := l1.Acquire("res")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := l2.Acquire("res")
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
			return
		}
		close(acquired)
		h2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("Second arena acquired a held file lock")
	case <-time.After(200 * time.Millisecond):
	}

	h1.Release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("File lock was never handed over")
	}
}

func TestFileKeyLockClear(t *testing.T) {
	dir := t.TempDir()
	l, _ := NewFileKeyLock(dir)

	h, err := l.Acquire("a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Clear(); !errors.Is(err, ErrLocksHeld) {
		t.Errorf("Expected ErrLocksHeld, got %v", err)
	}
	h.Release()

	if err := l.Clear(); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected lock files removed, found %d", len(entries))
	}
}
