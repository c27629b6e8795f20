// Package status tracks the progress of a scheduling or sync operation and
// publishes every change to observers.
package status

import (
	"fmt"
	"sync"
)

// State is the phase of the tracked operation.
type State int

const (
	Idle State = iota
	Syncing
	Success
	Error
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Status is a snapshot of the tracker. Progress is meaningful while Syncing
// and Err is set only in the Error state.
type Status struct {
	State    State
	Progress float64
	Err      error
}

func (s Status) String() string {
	switch s.State {
	case Syncing:
		return fmt.Sprintf("syncing %.0f%%", s.Progress*100)
	case Error:
		return fmt.Sprintf("error: %v", s.Err)
	default:
		return s.State.String()
	}
}

// Tracker owns a Status. Only the goroutine running the operation should
// call the mutating methods; Current and Subscribe are safe from anywhere.
type Tracker struct {
	mu     sync.Mutex
	cur    Status
	subs   map[int]chan Status
	nextID int
}

func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]chan Status)}
}

func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Subscribe returns a channel that always holds the latest status; slow
// readers skip intermediate values. The returned func unsubscribes and
// closes the channel.
func (t *Tracker) Subscribe() (<-chan Status, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Status, 1)
	ch <- t.cur
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

// Begin starts a new operation at zero progress.
func (t *Tracker) Begin() {
	t.set(Status{State: Syncing})
}

// Advance moves progress forward. Values are clamped to [0, 1] and never go
// backwards within one operation; calls outside Syncing are ignored.
func (t *Tracker) Advance(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur.State != Syncing {
		return
	}
	if p > 1 {
		p = 1
	}
	if p <= t.cur.Progress {
		return
	}
	t.cur.Progress = p
	t.publish()
}

func (t *Tracker) Succeed() {
	t.set(Status{State: Success, Progress: 1})
}

func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Status{State: Error, Progress: t.cur.Progress, Err: err}
	t.publish()
}

// Reset returns to Idle. There is no automatic transition back.
func (t *Tracker) Reset() {
	t.set(Status{})
}

func (t *Tracker) set(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = s
	t.publish()
}

// publish must be called with mu held.
func (t *Tracker) publish() {
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- t.cur
	}
}
