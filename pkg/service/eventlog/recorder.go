package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
)

// Sink stores a batch of events
type Sink interface {
	InsertEvents(ctx context.Context, events []*model.Event) error
}

// Recorder buffers events and flushes them to a Sink in batches from a
// background goroutine. Record never blocks; when the buffer is full the
// event is dropped.
type Recorder struct {
	sink          Sink
	batchSize     int
	flushInterval time.Duration

	ch     chan *model.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type Option func(*Recorder)

func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		r.batchSize = n
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// WithBufferSize sets how many events may wait for a flush before new ones
// are dropped
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		r.ch = make(chan *model.Event, n)
	}
}

func New(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:          sink,
		batchSize:     100,
		flushInterval: 5 * time.Second,
		ch:            make(chan *model.Event, 1024),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record queues ev for export. A nil Recorder only logs.
func (r *Recorder) Record(ctx context.Context, ev *model.Event) {
	logging.From(ctx).Debug("event",
		"kind", ev.Kind,
		"id", ev.IdentityID,
		"name", ev.Name,
		"message", ev.Message)

	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.ch <- ev:
	default:
		logging.From(ctx).Warn("event buffer full, drop event", "kind", ev.Kind, "id", ev.IdentityID)
	}
}

// Start runs the flush loop until Close is called. Flushes use a context
// detached from ctx cancellation so the final batch is still written.
func (r *Recorder) Start(ctx context.Context) {
	ctx = context.WithoutCancel(logging.WithComponent(ctx, "eventlog"))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()

		batch := make([]*model.Event, 0, r.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := r.sink.InsertEvents(ctx, batch); err != nil {
				logging.From(ctx).Warn("failed to export events", "count", len(batch), "error", err)
			}
			batch = make([]*model.Event, 0, r.batchSize)
		}

		for {
			select {
			case ev, ok := <-r.ch:
				if !ok {
					flush()
					return
				}
				batch = append(batch, ev)
				if len(batch) >= r.batchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Close stops accepting events, flushes what is buffered and waits for the
// flush loop to exit
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
