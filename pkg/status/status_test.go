package status

import (
	"errors"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	if got := tr.Current().State; got != Idle {
		t.Fatalf("Expected idle, got %s", got)
	}

	tr.Begin()
	tr.Advance(0.5)
	tr.Advance(0.25)
	if got := tr.Current(); got.State != Syncing || got.Progress != 0.5 {
		t.Errorf("Expected syncing at 0.5, got %s", got)
	}
	tr.Advance(7)
	if got := tr.Current().Progress; got != 1 {
		t.Errorf("Expected progress clamped to 1, got %v", got)
	}

	tr.Succeed()
	if got := tr.Current().State; got != Success {
		t.Errorf("Expected success, got %s", got)
	}
	tr.Advance(0.9)
	if got := tr.Current().State; got != Success {
		t.Errorf("Advance outside an operation changed state to %s", got)
	}

	tr.Reset()
	if got := tr.Current().State; got != Idle {
		t.Errorf("Expected idle after reset, got %s", got)
	}
}

func TestTrackerFail(t *testing.T) {
	tr := NewTracker()
	boom := errors.New("boom")
	tr.Begin()
	tr.Advance(0.25)
	tr.Fail(boom)

	got := tr.Current()
	if got.State != Error || !errors.Is(got.Err, boom) {
		t.Fatalf("Expected error state carrying cause, got %s", got)
	}
	if got.String() != "error: boom" {
		t.Errorf("Expected 'error: boom', got %q", got.String())
	}

	tr.Begin()
	if got := tr.Current(); got.State != Syncing || got.Progress != 0 || got.Err != nil {
		t.Errorf("Expected fresh syncing state, got %s", got)
	}
}

func TestSubscribeLatestValue(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()

	if s := <-ch; s.State != Idle {
		t.Fatalf("Expected initial idle, got %s", s)
	}

	tr.Begin()
	tr.Advance(0.25)
	tr.Advance(0.75)
	if s := <-ch; s.State != Syncing || s.Progress != 0.75 {
		t.Errorf("Expected latest syncing 0.75, got %s", s)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after unsubscribe")
	}
	tr.Succeed()
}
