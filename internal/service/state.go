package service

import (
	"sync"

	"telemetry-ml/internal/domain"
)

// stateTracker records the in-process lifecycle state of each model key.
// A key the tracker has never seen is untrained unless the store holds a model.
type stateTracker struct {
	mu     sync.RWMutex
	states map[string]domain.ModelState
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]domain.ModelState)}
}

// get returns the tracked state and whether the key is known.
func (t *stateTracker) get(key string) (domain.ModelState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[key]
	return s, ok
}

// begin moves key into training (from untrained) or retraining (from
// trained) and returns the state to restore on failure. hasModel reports a
// persisted model for keys the tracker has not seen yet.
func (t *stateTracker) begin(key string, hasModel bool) domain.ModelState {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.states[key]
	if !ok {
		prev = domain.StateUntrained
		if hasModel {
			prev = domain.StateTrained
		}
	}
	if prev == domain.StateTrained {
		t.states[key] = domain.StateRetraining
	} else {
		t.states[key] = domain.StateTraining
	}
	return prev
}

// finish marks key trained.
func (t *stateTracker) finish(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[key] = domain.StateTrained
}

// fail restores the state observed by begin.
func (t *stateTracker) fail(key string, prev domain.ModelState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[key] = prev
}
