package greeting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
	"github.com/m-mizutani/gt"
)

func noDelay() []greeting.QueueOption {
	return []greeting.QueueOption{
		greeting.WithItemDelay(0),
		greeting.WithMissingRetryDelay(0),
	}
}

func newItem(id model.IdentityID) greeting.Item {
	return greeting.Item{IdentityID: id, Name: string(id), EnqueuedAt: time.Now()}
}

func TestQueueEnqueueIdempotent(t *testing.T) {
	q := greeting.NewQueue(nil, &mockPlayer{})

	gt.True(t, q.Enqueue(newItem("alice")))
	gt.False(t, q.Enqueue(newItem("alice")))
	gt.True(t, q.Enqueue(newItem("bob")))

	gt.Equal(t, q.Len(), 2)
	gt.True(t, q.Contains("alice"))
	gt.False(t, q.Contains("carol"))

	pending := q.Pending()
	gt.Equal(t, pending[0].IdentityID, model.IdentityID("alice"))
	gt.Equal(t, pending[1].IdentityID, model.IdentityID("bob"))
}

func TestQueueCachePermanence(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	synth := &mockSynthesizer{}
	player := &mockPlayer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))
	q := greeting.NewQueue(cache, player, noDelay()...)

	gt.True(t, q.Enqueue(newItem("alice")))
	q.Drain(ctx)
	gt.False(t, q.Contains("alice"))

	gt.True(t, q.Enqueue(newItem("alice")))
	q.Drain(ctx)

	gt.Equal(t, synth.Calls(), 1)
	played := player.Played()
	gt.A(t, played).Length(2)
	gt.Equal(t, played[0], played[1])
}

func TestQueueSkipsMissingPerson(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	synth := &mockSynthesizer{}
	player := &mockPlayer{}
	events := &mockEvents{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))
	q := greeting.NewQueue(cache, player, append(noDelay(), greeting.WithEventRecorder(events))...)

	q.Enqueue(newItem("deleted"))
	q.Enqueue(newItem("alice"))
	q.Drain(ctx)

	gt.A(t, player.Played()).Length(1)
	gt.Equal(t, q.Len(), 0)
	gt.False(t, q.Contains("deleted"))
	gt.Equal(t, events.Kinds(), []model.EventKind{model.EventGreetingFailed, model.EventGreetingPlayed})
}

func TestQueueMissingPersonWaitsRetryDelay(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, (&mockSynthesizer{}).factory(nil))
	q := greeting.NewQueue(cache, &mockPlayer{},
		greeting.WithItemDelay(0),
		greeting.WithMissingRetryDelay(50*time.Millisecond))

	q.Enqueue(newItem("deleted"))
	q.Enqueue(newItem("alice"))

	start := time.Now()
	q.Drain(ctx)
	gt.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestQueueSynthesisUnavailableDropsItem(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)

	synth := &mockSynthesizer{}
	player := &mockPlayer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))
	q := greeting.NewQueue(cache, player, noDelay()...)

	q.Enqueue(newItem("alice"))
	q.Drain(ctx)

	gt.Equal(t, synth.Calls(), 0)
	gt.A(t, player.Played()).Length(0)
	gt.False(t, q.Contains("alice"))
	gt.Equal(t, q.Len(), 0)
}

func TestQueueSynthesisFailureDropsItem(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	synth := &mockSynthesizer{err: errSynthesis}
	player := &mockPlayer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))
	q := greeting.NewQueue(cache, player, noDelay()...)

	q.Enqueue(newItem("alice"))
	q.Drain(ctx)

	// no retry
	gt.Equal(t, synth.Calls(), 1)
	gt.A(t, player.Played()).Length(0)
	gt.Equal(t, q.Len(), 0)
}

func TestQueuePlaybackErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	resolver := newBlockingResolver()
	close(resolver.release)
	player := &mockPlayer{err: errors.New("device busy")}
	events := &mockEvents{}

	q := greeting.NewQueue(resolver, player, append(noDelay(), greeting.WithEventRecorder(events))...)
	q.Enqueue(newItem("alice"))
	q.Enqueue(newItem("bob"))
	q.Drain(ctx)

	// both attempted once, nothing retried
	gt.A(t, player.Played()).Length(2)
	gt.Equal(t, events.Kinds(), []model.EventKind{model.EventGreetingFailed, model.EventGreetingFailed})
	gt.Equal(t, q.Len(), 0)
}

func TestQueueDrainIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	resolver := newBlockingResolver()
	player := &mockPlayer{}
	q := greeting.NewQueue(resolver, player, noDelay()...)

	q.Enqueue(newItem("alice"))
	q.Enqueue(newItem("bob"))

	done := make(chan struct{})
	go func() {
		q.Drain(ctx)
		close(done)
	}()

	gt.Equal(t, <-resolver.entered, model.IdentityID("alice"))

	// alice is in flight: still counted as queued, but not pending
	gt.True(t, q.Contains("alice"))
	gt.Equal(t, q.Len(), 1)
	gt.False(t, q.Enqueue(newItem("alice")))

	// a second drain returns immediately without touching bob
	q.Drain(ctx)
	gt.Equal(t, q.Len(), 1)

	close(resolver.release)
	<-done

	gt.Equal(t, resolver.MaxConcurrent(), 1)
	gt.A(t, player.Played()).Length(2)
}

// Resolve and Play have no timeout. A hanging call holds up every item
// behind it until it returns.
func TestQueueHangStallsFollowingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	resolver := newBlockingResolver()
	player := &mockPlayer{}
	q := greeting.NewQueue(resolver, player, noDelay()...)

	q.Start(ctx)
	q.Enqueue(newItem("alice"))
	q.Enqueue(newItem("bob"))

	gt.Equal(t, <-resolver.entered, model.IdentityID("alice"))

	select {
	case id := <-resolver.entered:
		t.Fatalf("%s was resolved while alice was hanging", id)
	case <-time.After(100 * time.Millisecond):
	}
	gt.Equal(t, q.Len(), 1)

	// cancelling does not abort the hanging item
	cancel()
	close(resolver.release)
	q.Wait()

	gt.A(t, player.Played()).Length(1)
	gt.True(t, q.Contains("bob"))
}

func TestQueueStartWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := newBlockingResolver()
	close(resolver.release)
	player := &mockPlayer{ch: make(chan []byte, 4)}
	q := greeting.NewQueue(resolver, player, noDelay()...)

	// items enqueued before Start are picked up
	q.Enqueue(newItem("alice"))
	q.Start(ctx)

	select {
	case data := <-player.ch:
		gt.Equal(t, string(data), "alice")
	case <-time.After(time.Second):
		t.Fatal("worker did not play alice")
	}

	q.Enqueue(newItem("bob"))
	select {
	case data := <-player.ch:
		gt.Equal(t, string(data), "bob")
	case <-time.After(time.Second):
		t.Fatal("worker did not play bob")
	}

	cancel()
	q.Wait()
}

func TestQueuePendingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	resolver := newBlockingResolver()
	player := &mockPlayer{}
	q := greeting.NewQueue(resolver, player, noDelay()...)

	gt.True(t, q.Enqueue(newItem("alice")))
	gt.True(t, q.Enqueue(newItem("bob")))
	gt.True(t, q.Enqueue(newItem("carol")))

	done := make(chan struct{})
	go func() {
		q.Drain(ctx)
		close(done)
	}()

	gt.Equal(t, <-resolver.entered, model.IdentityID("alice"))
	cancel()
	close(resolver.release)
	<-done

	// the item being handled completes, the rest stays queued
	gt.Equal(t, len(player.Played()), 1)
	pending := q.Pending()
	gt.A(t, pending).Length(2)
	gt.Equal(t, pending[0].IdentityID, model.IdentityID("bob"))
	gt.Equal(t, pending[1].IdentityID, model.IdentityID("carol"))
}
