package greeting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/policy"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/gt"
)

func putAlice(t *testing.T, repo repository.Repository) *model.Identity {
	t.Helper()
	alice := &model.Identity{
		ID:         "alice",
		Name:       "Alice",
		Embeddings: []model.Embedding{{0, 0, 0}},
		CreatedAt:  time.Now(),
	}
	gt.NoError(t, repo.PutIdentity(context.Background(), alice))
	return alice
}

func TestCacheResolveSynthesizesOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	gallery := match.NewGallery(repo)
	gt.NoError(t, gallery.Load(ctx))

	synth := &mockSynthesizer{}
	var keys []string
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(&keys), greeting.WithGallery(gallery))

	audio, err := cache.Resolve(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, string(audio.Data), "P:Xin chào bạn Alice")
	gt.Equal(t, synth.Calls(), 1)
	gt.Equal(t, keys, []string{"secret"})
	gt.Equal(t, synth.voice.LanguageCode, "vi-VN")

	// persisted through to the repository
	stored, err := repo.GetIdentity(ctx, "alice")
	gt.NoError(t, err)
	gt.V(t, stored.GreetingAudio).NotNil()
	gt.Equal(t, stored.GreetingAudio.Data, audio.Data)

	// and to the gallery snapshot
	inGallery, ok := gallery.Get("alice")
	gt.True(t, ok)
	gt.V(t, inGallery.GreetingAudio).NotNil()

	again, err := cache.Resolve(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, again.Data, audio.Data)
	gt.Equal(t, synth.Calls(), 1)
}

func TestCacheResolvePersonNotFound(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	synth := &mockSynthesizer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))

	_, err := cache.Resolve(ctx, "ghost")
	gt.True(t, errors.Is(err, greeting.ErrPersonNotFound))
	gt.Equal(t, synth.Calls(), 0)
}

func TestCacheResolveIdentityDeletedDuringSynthesis(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	gallery := match.NewGallery(repo)
	gt.NoError(t, gallery.Load(ctx))

	synth := &mockSynthesizer{
		during: func() {
			gt.NoError(t, repo.DeleteIdentity(ctx, "alice"))
		},
	}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil), greeting.WithGallery(gallery))

	_, err := cache.Resolve(ctx, "alice")
	gt.True(t, errors.Is(err, greeting.ErrPersonNotFound))
	gt.Equal(t, synth.Calls(), 1)

	// the deleted identity is not written back
	_, err = repo.GetIdentity(ctx, "alice")
	gt.True(t, errors.Is(err, repository.ErrNotFound))
	n, err := repo.CountIdentities(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	inGallery, ok := gallery.Get("alice")
	gt.True(t, ok)
	gt.True(t, inGallery.GreetingAudio == nil)
}

func TestCacheResolveUnavailable(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)

	synth := &mockSynthesizer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))

	_, err := cache.Resolve(ctx, "alice")
	gt.True(t, errors.Is(err, greeting.ErrSynthesisUnavailable))
	gt.Equal(t, synth.Calls(), 0)

	t.Run("empty credential is absent", func(t *testing.T) {
		gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, ""))
		_, err := cache.Resolve(ctx, "alice")
		gt.True(t, errors.Is(err, greeting.ErrSynthesisUnavailable))
	})

	t.Run("cached audio needs no credential", func(t *testing.T) {
		alice, err := repo.GetIdentity(ctx, "alice")
		gt.NoError(t, err)
		alice.GreetingAudio = &model.Audio{Data: []byte("cached"), Format: model.AudioFormatPCM16, SampleRate: 24000, Channels: 1}
		gt.NoError(t, repo.PutIdentity(ctx, alice))

		audio, err := cache.Resolve(ctx, "alice")
		gt.NoError(t, err)
		gt.Equal(t, string(audio.Data), "cached")
	})
}

func TestCacheFallbackCredential(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)

	synth := &mockSynthesizer{}
	var keys []string
	cache := greeting.NewCache(repo, model.SettingOpenAIAPIKey, synth.factory(&keys),
		greeting.WithFallbackCredential("from-env"))

	_, err := cache.Resolve(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, keys, []string{"from-env"})

	// the stored setting wins over the fallback
	alice, err := repo.GetIdentity(ctx, "alice")
	gt.NoError(t, err)
	alice.GreetingAudio = nil
	gt.NoError(t, repo.PutIdentity(ctx, alice))
	gt.NoError(t, repo.PutSetting(ctx, model.SettingOpenAIAPIKey, "from-store"))

	_, err = cache.Resolve(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, keys, []string{"from-env", "from-store"})
}

func TestCacheSynthesisFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	putAlice(t, repo)
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	synth := &mockSynthesizer{err: errSynthesis}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil))

	_, err := cache.Resolve(ctx, "alice")
	gt.Error(t, err)
	gt.False(t, errors.Is(err, greeting.ErrSynthesisUnavailable))

	stored, err := repo.GetIdentity(ctx, "alice")
	gt.NoError(t, err)
	gt.Nil(t, stored.GreetingAudio)
}

func TestCachePhrasePolicy(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	dob := time.Date(1950, 6, 1, 0, 0, 0, 0, time.UTC)
	gt.NoError(t, repo.PutIdentity(ctx, &model.Identity{
		ID:          "lan",
		Name:        "Lan",
		DateOfBirth: &dob,
		Embeddings:  []model.Embedding{{0}},
	}))
	gt.NoError(t, repo.PutSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	p, err := policy.NewGreeting(ctx, `package greeting

text = sprintf("Xin chào bác %s", [input.name]) if input.age >= 60
`)
	gt.NoError(t, err)
	phrase, err := greeting.NewPhrase("", greeting.DefaultVoice, p)
	gt.NoError(t, err)

	synth := &mockSynthesizer{}
	cache := greeting.NewCache(repo, model.SettingGoogleAPIKey, synth.factory(nil),
		greeting.WithPhrase(phrase),
		greeting.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }))

	_, err = cache.Resolve(ctx, "lan")
	gt.NoError(t, err)
	gt.Equal(t, synth.texts, []string{"Xin chào bác Lan"})
}

func TestPhraseTemplate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	phrase, err := greeting.NewPhrase("Hello {{.Name}}, you are {{.Age}}", model.Voice{LanguageCode: "en-US", Name: "Kore"}, nil)
	gt.NoError(t, err)

	text, voice, err := phrase.Build(ctx, &model.Identity{Name: "Bob", DateOfBirth: &dob}, now)
	gt.NoError(t, err)
	gt.Equal(t, text, "Hello Bob, you are 35")
	gt.Equal(t, voice.LanguageCode, "en-US")
	gt.Equal(t, voice.Name, "Kore")

	_, err = greeting.NewPhrase("Hello {{.Name", greeting.DefaultVoice, nil)
	gt.Error(t, err)
}
