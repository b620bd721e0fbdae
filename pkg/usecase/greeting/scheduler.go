package greeting

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/presence"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
)

const (
	DefaultCooldown        = 15 * time.Second
	DefaultOutOfFrameReset = 24 * time.Hour
)

// State is the greeting state of one identity
type State int

const (
	NeverGreeted State = iota
	Cooling
	Eligible
)

func (s State) String() string {
	switch s {
	case NeverGreeted:
		return "never_greeted"
	case Cooling:
		return "cooling"
	case Eligible:
		return "eligible"
	default:
		return "unknown"
	}
}

// Enqueuer is the queue side the scheduler needs
type Enqueuer interface {
	Enqueue(item Item) bool
	Contains(id model.IdentityID) bool
}

// Scheduler decides per frame which matched identities get a greeting
type Scheduler struct {
	tracker         *presence.Tracker
	queue           Enqueuer
	cooldown        time.Duration
	outOfFrameReset time.Duration

	mu          sync.Mutex
	lastGreeted map[model.IdentityID]time.Time
}

type SchedulerOption func(*Scheduler)

// WithCooldown sets the minimum time between two greetings of a person
// who stays in frame
func WithCooldown(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.cooldown = d
	}
}

// WithOutOfFrameReset sets how long a person must be absent to be greeted
// again as if never greeted
func WithOutOfFrameReset(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.outOfFrameReset = d
	}
}

func NewScheduler(tracker *presence.Tracker, queue Enqueuer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		tracker:         tracker,
		queue:           queue,
		cooldown:        DefaultCooldown,
		outOfFrameReset: DefaultOutOfFrameReset,
		lastGreeted:     make(map[model.IdentityID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe processes the matches of one frame and returns the greetings it
// enqueued. nil entries (unmatched detections) are ignored. Each identity is
// handled once per frame. lastGreetedAt is stamped at enqueue time, not
// after playback.
func (s *Scheduler) Observe(ctx context.Context, matches []*model.MatchResult, now time.Time) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var enqueued []Item
	seen := make(map[model.IdentityID]struct{}, len(matches))

	for _, m := range matches {
		if m == nil {
			continue
		}
		id := m.IdentityID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if gap, ok := s.tracker.TimeSinceSeen(id, now); ok && gap > s.outOfFrameReset {
			if _, greeted := s.lastGreeted[id]; greeted {
				logging.From(ctx).Debug("person re-entered, reset greeting", "id", id, "gap", gap)
			}
			delete(s.lastGreeted, id)
		}

		s.tracker.RecordSeen([]model.IdentityID{id}, now)

		if last, ok := s.lastGreeted[id]; ok && now.Sub(last) < s.cooldown {
			continue
		}

		if s.queue.Contains(id) {
			continue
		}

		item := Item{
			IdentityID: id,
			Name:       m.Name,
			EnqueuedAt: now,
		}
		if !s.queue.Enqueue(item) {
			continue
		}
		s.lastGreeted[id] = now
		enqueued = append(enqueued, item)
	}

	return enqueued
}

// State returns the greeting state of id at now
func (s *Scheduler) State(id model.IdentityID, now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastGreeted[id]
	if !ok {
		return NeverGreeted
	}
	if gap, seen := s.tracker.TimeSinceSeen(id, now); seen && gap > s.outOfFrameReset {
		return NeverGreeted
	}
	if now.Sub(last) < s.cooldown {
		return Cooling
	}
	return Eligible
}

// Forget drops greeting and presence state of id
func (s *Scheduler) Forget(id model.IdentityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastGreeted, id)
	s.tracker.Forget(id)
}
