package presence

import (
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
)

// Tracker records when each identity was last matched in a frame. State is
// session scoped and never persisted.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[model.IdentityID]time.Time
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{
		lastSeen: make(map[model.IdentityID]time.Time),
	}
}

// RecordSeen stamps every id matched in the frame with now. Ids not in the
// set are left untouched.
func (t *Tracker) RecordSeen(ids []model.IdentityID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		t.lastSeen[id] = now
	}
}

// TimeSinceSeen returns the elapsed time since id was last seen. ok is false
// when id has never been seen, which callers treat as infinite.
func (t *Tracker) TimeSinceSeen(id model.IdentityID, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.lastSeen[id]
	if !ok {
		return 0, false
	}
	return now.Sub(seen), true
}

// LastSeen returns the timestamp of the last frame id was matched in
func (t *Tracker) LastSeen(id model.IdentityID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.lastSeen[id]
	return seen, ok
}

// Forget drops the record of id, e.g. after the identity is deleted
func (t *Tracker) Forget(id model.IdentityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, id)
}
