package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/procbox/pkg/task"
)

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, s Store) {
	t.Helper()

	info := task.Info{
		ID:        "web",
		Command:   "/usr/bin/webd",
		Status:    task.StatusCreated,
		CreatedAt: time.Now(),
	}
	if err := s.SaveTask(info); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, err := s.GetTask("web")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Command != "/usr/bin/webd" || got.Status != task.StatusCreated {
		t.Errorf("Unexpected task: %+v", got)
	}

	// Update in place
	info.Status = task.StatusRunning
	info.PID = 4242
	info.StartedAt = time.Now()
	if err := s.SaveTask(info); err != nil {
		t.Fatalf("SaveTask update failed: %v", err)
	}
	got, err = s.GetTask("web")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != task.StatusRunning || got.PID != 4242 {
		t.Errorf("Update not persisted: %+v", got)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt not persisted")
	}

	if _, err := s.GetTask("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Journal
	for i, to := range []task.Status{task.StatusStarting, task.StatusRunning} {
		from := task.StatusCreated
		if i == 1 {
			from = task.StatusStarting
		}
		if err := s.AddTransition(Transition{TaskID: "web", From: from, To: to, PID: 4242}); err != nil {
			t.Fatalf("AddTransition failed: %v", err)
		}
	}
	trs, err := s.GetTransitions("web")
	if err != nil {
		t.Fatalf("GetTransitions failed: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(trs))
	}
	if trs[0].To != task.StatusStarting || trs[1].To != task.StatusRunning {
		t.Errorf("Journal out of order: %+v", trs)
	}

	// Delete drops summary and journal
	if err := s.DeleteTask("web"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := s.GetTask("web"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	trs, err = s.GetTransitions("web")
	if err != nil {
		t.Fatalf("GetTransitions failed: %v", err)
	}
	if len(trs) != 0 {
		t.Errorf("Journal should be empty after delete, got %d entries", len(trs))
	}
	if err := s.DeleteTask("web"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	runStoreTests(t, s)
}

func TestSQLiteConcurrentTransitions(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	const writers = 10
	const perWriter = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("task-%d", n)
			for j := 0; j < perWriter; j++ {
				if err := s.AddTransition(Transition{
					TaskID: id,
					From:   task.StatusCreated,
					To:     task.StatusStarting,
				}); err != nil {
					t.Errorf("AddTransition failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		trs, err := s.GetTransitions(fmt.Sprintf("task-%d", i))
		if err != nil {
			t.Fatalf("GetTransitions failed: %v", err)
		}
		if len(trs) != perWriter {
			t.Errorf("task-%d: expected %d transitions, got %d", i, perWriter, len(trs))
		}
	}
}

func TestPrune(t *testing.T) {
	s := NewMemoryStore()

	old := Transition{TaskID: "a", From: task.StatusCreated, To: task.StatusStarting,
		Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := Transition{TaskID: "a", From: task.StatusStarting, To: task.StatusRunning,
		Timestamp: time.Now()}
	if err := s.AddTransition(old); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTransition(fresh); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 pruned entry, got %d", removed)
	}
	trs, _ := s.GetTransitions("a")
	if len(trs) != 1 || trs[0].To != task.StatusRunning {
		t.Errorf("Wrong entries survived prune: %+v", trs)
	}
}

func TestNewStoreFactory(t *testing.T) {
	s, err := NewStore(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("NewStore(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected MemoryStore, got %T", s)
	}

	s, err = NewStore(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("NewStore(sqlite) failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Expected SQLiteStore, got %T", s)
	}

	if _, err := NewStore(Config{Type: "cassandra"}); err == nil {
		t.Error("Expected error for unsupported store type")
	}
}
