package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"safety-service/models"
)

// touristState is the per-tourist membership state machine. It is only
// ever touched from that tourist's processing lane, but the map of
// states is shared, so Tracker guards it.
type touristState struct {
	lastFixTime time.Time
	membership  map[uint64]bool
}

// Tracker diffs each new fix's zone membership against the previous
// one and enforces per-tourist timestamp monotonicity.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*touristState
}

func New() *Tracker {
	return &Tracker{
		states: make(map[string]*touristState),
	}
}

// Apply records the membership set computed for a fix and returns the
// zone ids entered and exited relative to the previous fix. A fix whose
// timestamp does not advance the tourist's clock is rejected with
// ErrStaleFix and leaves the state untouched, so a duplicate submission
// is a no-op.
func (t *Tracker) Apply(touristId string, fixTime time.Time, currentSet map[uint64]bool) (entered, exited []uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[touristId]
	if !ok {
		// Newly seen tourist: empty previous membership.
		state = &touristState{membership: make(map[uint64]bool)}
		t.states[touristId] = state
	}

	if !state.lastFixTime.IsZero() && !fixTime.After(state.lastFixTime) {
		return nil, nil, fmt.Errorf("%w: fix at %s does not advance last processed %s",
			models.ErrStaleFix, fixTime.Format(time.RFC3339), state.lastFixTime.Format(time.RFC3339))
	}

	for id := range currentSet {
		if !state.membership[id] {
			entered = append(entered, id)
		}
	}
	for id := range state.membership {
		if !currentSet[id] {
			exited = append(exited, id)
		}
	}

	// Supersede atomically under the lock.
	state.membership = currentSet
	state.lastFixTime = fixTime

	sort.Slice(entered, func(i, j int) bool { return entered[i] < entered[j] })
	sort.Slice(exited, func(i, j int) bool { return exited[i] < exited[j] })
	return entered, exited, nil
}

// Membership returns a copy of the tourist's current membership set.
func (t *Tracker) Membership(touristId string) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[touristId]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(state.membership))
	for id := range state.membership {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Restore seeds a tourist's state from persisted membership, used at
// startup so restarts do not replay entry transitions.
func (t *Tracker) Restore(touristId string, lastFixTime time.Time, membership []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := make(map[uint64]bool, len(membership))
	for _, id := range membership {
		set[id] = true
	}
	t.states[touristId] = &touristState{
		lastFixTime: lastFixTime,
		membership:  set,
	}
}

// Forget drops the tourist's state on deactivation.
func (t *Tracker) Forget(touristId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, touristId)
}
