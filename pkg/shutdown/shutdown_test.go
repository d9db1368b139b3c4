package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHooksRunInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	m.Register("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.Register("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	m.Trigger()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("Expected LIFO order, got %v", order)
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	m := New(time.Second, nil)

	runs := 0
	m.Register("once", func(context.Context) error {
		runs++
		return nil
	})

	m.Trigger()
	m.Trigger()

	if runs != 1 {
		t.Errorf("Hooks ran %d times, expected 1", runs)
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done channel should be closed after Trigger")
	}
}

func TestFailingHookDoesNotStopChain(t *testing.T) {
	m := New(time.Second, nil)

	ran := false
	m.Register("survivor", func(context.Context) error {
		ran = true
		return nil
	})
	m.Register("broken", func(context.Context) error {
		return errors.New("boom")
	})

	m.Trigger()

	if !ran {
		t.Error("Hook after a failing one never ran")
	}
}

func TestCloseResource(t *testing.T) {
	c := &fakeCloser{}
	if err := CloseResource(c)(context.Background()); err != nil {
		t.Fatalf("CloseResource failed: %v", err)
	}
	if !c.closed {
		t.Error("Closer was not closed")
	}
}

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}
