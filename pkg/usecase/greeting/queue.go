package greeting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
)

const (
	DefaultItemDelay         = 500 * time.Millisecond
	DefaultMissingRetryDelay = time.Second
)

// Item is a pending greeting
type Item struct {
	IdentityID model.IdentityID
	Name       string
	EnqueuedAt time.Time
}

// Resolver returns the greeting audio for an identity
type Resolver interface {
	Resolve(ctx context.Context, id model.IdentityID) (*model.Audio, error)
}

// EventRecorder receives greeting outcomes
type EventRecorder interface {
	Record(ctx context.Context, ev *model.Event)
}

// Queue is a FIFO of greetings drained by a single worker. An identity is
// present at most once, counting the item being handled.
//
// Resolve and Play run without a timeout. A hang stalls the queue until the
// call returns.
type Queue struct {
	resolver          Resolver
	player            adapter.Player
	events            EventRecorder
	itemDelay         time.Duration
	missingRetryDelay time.Duration
	now               func() time.Time

	mu         sync.Mutex
	items      []Item
	members    map[model.IdentityID]struct{}
	processing bool

	wake chan struct{}
	wg   sync.WaitGroup
}

type QueueOption func(*Queue)

func WithItemDelay(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.itemDelay = d
	}
}

func WithMissingRetryDelay(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.missingRetryDelay = d
	}
}

func WithEventRecorder(r EventRecorder) QueueOption {
	return func(q *Queue) {
		q.events = r
	}
}

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates an idle queue. Call Start to run the worker, or Drain
// to process pending items in the caller's goroutine.
func NewQueue(resolver Resolver, player adapter.Player, opts ...QueueOption) *Queue {
	q := &Queue{
		resolver:          resolver,
		player:            player,
		itemDelay:         DefaultItemDelay,
		missingRetryDelay: DefaultMissingRetryDelay,
		now:               time.Now,
		members:           make(map[model.IdentityID]struct{}),
		wake:              make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item unless its identity is already queued or being
// handled. It reports whether the item was added.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	if _, ok := q.members[item.IdentityID]; ok {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.members[item.IdentityID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Contains reports whether id is pending or being handled
func (q *Queue) Contains(id model.IdentityID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[id]
	return ok
}

// Len returns the number of pending items, excluding the one being handled
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the pending items in order
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

func (q *Queue) next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.processing = false
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) done(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.members, item.IdentityID)
}

// Drain handles items until the queue is empty or ctx is cancelled. If
// another drain is running it returns immediately. An item already being
// handled is completed even after ctx is cancelled.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	for {
		if ctx.Err() != nil {
			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
			return
		}

		item, ok := q.next()
		if !ok {
			return
		}

		delay := q.handle(context.WithoutCancel(ctx), item)
		q.done(item)

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

// Start runs the worker in the background until ctx is cancelled. Use Wait
// to block until the current item has finished.
func (q *Queue) Start(ctx context.Context) {
	ctx = logging.WithComponent(ctx, "greeting")
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				q.Drain(ctx)
			}
		}
	}()

	if q.Len() > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until the worker started by Start has exited
func (q *Queue) Wait() {
	q.wg.Wait()
}

// handle resolves and plays one item and returns how long to wait before
// the next one
func (q *Queue) handle(ctx context.Context, item Item) time.Duration {
	logger := logging.From(ctx).With("id", item.IdentityID, "name", item.Name)

	audio, err := q.resolver.Resolve(ctx, item.IdentityID)
	switch {
	case errors.Is(err, ErrPersonNotFound):
		logger.Info("skip greeting, person not found")
		q.record(ctx, item, model.EventGreetingFailed, "person not found")
		return q.missingRetryDelay

	case errors.Is(err, ErrSynthesisUnavailable):
		logger.Warn("skip greeting, synthesis unavailable", "error", err)
		q.record(ctx, item, model.EventGreetingFailed, "synthesis unavailable")
		return q.itemDelay

	case err != nil:
		logger.Error("failed to resolve greeting", "error", err)
		q.record(ctx, item, model.EventGreetingFailed, err.Error())
		return q.itemDelay
	}

	if err := q.player.Play(ctx, audio); err != nil {
		logger.Warn("failed to play greeting", "error", err)
		q.record(ctx, item, model.EventGreetingFailed, "playback: "+err.Error())
		return q.itemDelay
	}

	logger.Info("greeting played", "waited", q.now().Sub(item.EnqueuedAt))
	q.record(ctx, item, model.EventGreetingPlayed, "")
	return q.itemDelay
}

func (q *Queue) record(ctx context.Context, item Item, kind model.EventKind, msg string) {
	if q.events == nil {
		return
	}
	q.events.Record(ctx, &model.Event{
		Kind:       kind,
		IdentityID: item.IdentityID,
		Name:       item.Name,
		Message:    msg,
		At:         q.now(),
	})
}
