package eventlog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/service/eventlog"
	"github.com/m-mizutani/gt"
)

type mockSink struct {
	mu      sync.Mutex
	batches [][]*model.Event
	err     error
}

func (m *mockSink) InsertEvents(ctx context.Context, events []*model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, events)
	return m.err
}

func (m *mockSink) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func (m *mockSink) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func event(id string) *model.Event {
	return &model.Event{Kind: model.EventRecognized, IdentityID: model.IdentityID(id), At: time.Now()}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	r := eventlog.New(sink, eventlog.WithFlushInterval(time.Hour))
	r.Start(ctx)

	r.Record(ctx, event("a"))
	r.Record(ctx, event("b"))
	r.Close()

	gt.Equal(t, sink.Total(), 2)
	gt.Equal(t, sink.Batches(), 1)

	// recording after close is a no-op
	r.Record(ctx, event("c"))
	gt.Equal(t, sink.Total(), 2)
}

func TestRecorderBatchSize(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	r := eventlog.New(sink, eventlog.WithBatchSize(2), eventlog.WithFlushInterval(time.Hour))
	r.Start(ctx)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.Record(ctx, event(id))
	}
	r.Close()

	gt.Equal(t, sink.Total(), 5)
	gt.Equal(t, sink.Batches(), 3)
}

func TestRecorderFlushInterval(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	r := eventlog.New(sink, eventlog.WithFlushInterval(10*time.Millisecond))
	r.Start(ctx)
	defer r.Close()

	r.Record(ctx, event("a"))

	deadline := time.Now().Add(time.Second)
	for sink.Total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.Equal(t, sink.Total(), 1)
}

func TestRecorderSinkErrorIsLogged(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{err: errors.New("quota exceeded")}
	r := eventlog.New(sink)
	r.Start(ctx)

	r.Record(ctx, event("a"))
	r.Close()

	gt.Equal(t, sink.Batches(), 1)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	// not started, so nothing drains the buffer
	r := eventlog.New(sink, eventlog.WithBufferSize(1))

	r.Record(ctx, event("a"))
	r.Record(ctx, event("b"))

	r.Start(ctx)
	r.Close()
	gt.Equal(t, sink.Total(), 1)
}

func TestNilRecorder(t *testing.T) {
	var r *eventlog.Recorder
	r.Record(context.Background(), event("a"))
}
