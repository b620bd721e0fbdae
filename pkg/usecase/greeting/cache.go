package greeting

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrPersonNotFound means the identity was deleted after it was queued
	ErrPersonNotFound = goerr.New("person not found")

	// ErrSynthesisUnavailable means no credential is configured for the
	// synthesis provider
	ErrSynthesisUnavailable = goerr.New("synthesis unavailable")
)

// Cache resolves the greeting audio of an identity. Audio is synthesized on
// first use, written through to the repository and never invalidated.
type Cache struct {
	repo          repository.Repository
	factory       adapter.SynthesizerFactory
	credentialKey model.SettingKey
	fallbackKey   string
	gallery       *match.Gallery
	phrase        *Phrase
	now           func() time.Time

	group singleflight.Group
}

type CacheOption func(*Cache)

// WithGallery keeps the in-memory gallery in sync with newly cached audio
func WithGallery(g *match.Gallery) CacheOption {
	return func(c *Cache) {
		c.gallery = g
	}
}

func WithPhrase(p *Phrase) CacheOption {
	return func(c *Cache) {
		c.phrase = p
	}
}

// WithFallbackCredential is used when the settings store has no credential
func WithFallbackCredential(apiKey string) CacheOption {
	return func(c *Cache) {
		c.fallbackKey = apiKey
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache that reads the synthesis credential from the
// setting credentialKey and builds a synthesizer with factory.
func NewCache(repo repository.Repository, credentialKey model.SettingKey, factory adapter.SynthesizerFactory, opts ...CacheOption) *Cache {
	c := &Cache{
		repo:          repo,
		factory:       factory,
		credentialKey: credentialKey,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.phrase == nil {
		c.phrase, _ = NewPhrase(DefaultTemplate, DefaultVoice, nil)
	}
	return c
}

// Resolve returns cached audio, or synthesizes, persists and returns it.
// Concurrent calls for the same identity share one synthesis.
func (c *Cache) Resolve(ctx context.Context, id model.IdentityID) (*model.Audio, error) {
	v, err, _ := c.group.Do(string(id), func() (any, error) {
		return c.resolve(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Audio), nil
}

func (c *Cache) resolve(ctx context.Context, id model.IdentityID) (*model.Audio, error) {
	identity, err := c.repo.GetIdentity(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, goerr.Wrap(ErrPersonNotFound, "identity is gone", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to load identity", goerr.V("id", id))
	}

	if identity.GreetingAudio != nil {
		return identity.GreetingAudio, nil
	}

	synth, err := c.synthesizer(ctx)
	if err != nil {
		return nil, err
	}

	text, voice, err := c.phrase.Build(ctx, identity, c.now())
	if err != nil {
		return nil, err
	}

	audio, err := synth.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to synthesize greeting",
			goerr.V("id", id),
			goerr.V("text", text))
	}
	logging.From(ctx).Info("greeting synthesized",
		"id", id,
		"name", identity.Name,
		"seconds", audio.Duration())

	identity.GreetingAudio = audio
	identity.UpdatedAt = c.now()
	if err := c.repo.UpdateGreetingAudio(ctx, id, audio, identity.UpdatedAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, goerr.Wrap(ErrPersonNotFound, "identity deleted during synthesis", goerr.V("id", id))
		}
		// the audio is still playable, it will be synthesized again next session
		logging.From(ctx).Warn("failed to persist greeting audio", "id", id, "error", err)
	}
	if c.gallery != nil {
		c.gallery.Update(identity)
	}

	return audio, nil
}

func (c *Cache) synthesizer(ctx context.Context) (adapter.Synthesizer, error) {
	apiKey, ok, err := c.repo.GetSetting(ctx, c.credentialKey)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read credential setting", goerr.V("key", c.credentialKey))
	}
	if !ok || apiKey == "" {
		apiKey = c.fallbackKey
	}
	if apiKey == "" || c.factory == nil {
		return nil, goerr.Wrap(ErrSynthesisUnavailable, "no credential configured", goerr.V("key", c.credentialKey))
	}

	synth, err := c.factory(ctx, apiKey)
	if err != nil {
		return nil, goerr.Wrap(ErrSynthesisUnavailable, "failed to create synthesizer",
			goerr.V("key", c.credentialKey),
			goerr.V("cause", err.Error()))
	}
	return synth, nil
}
