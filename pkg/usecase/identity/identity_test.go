package identity_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/gt"
)

// mockDetector returns the detections registered for each image payload
type mockDetector struct {
	faces map[string][]model.Detection
}

func (m *mockDetector) Detect(ctx context.Context, frame []byte) ([]model.Detection, error) {
	faces, ok := m.faces[string(frame)]
	if !ok {
		return nil, errors.New("cannot decode image")
	}
	return faces, nil
}

type mockResolver struct {
	mu    sync.Mutex
	calls []model.IdentityID
	err   error
}

func (m *mockResolver) Resolve(ctx context.Context, id model.IdentityID) (*model.Audio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if m.err != nil {
		return nil, m.err
	}
	return &model.Audio{Data: []byte("P"), Format: model.AudioFormatPCM16, SampleRate: 24000, Channels: 1}, nil
}

type mockPlayer struct {
	played int
}

func (m *mockPlayer) Play(ctx context.Context, audio *model.Audio) error {
	m.played++
	return nil
}

func face(size int, emb ...float32) model.Detection {
	return model.Detection{
		Region:    image.Rect(0, 0, size, size),
		Embedding: emb,
	}
}

func newDetector() *mockDetector {
	return &mockDetector{faces: map[string][]model.Detection{
		"front":  {face(100, 0.1, 0.1)},
		"side":   {face(80, 0.2, 0.1)},
		"group":  {face(20, 0.9, 0.9), face(120, 0.3, 0.3)},
		"empty":  {},
		"mismat": {face(100, 0.1, 0.1, 0.1)},
	}}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := identity.New(repo, identity.WithDetector(newDetector()))

	dob := time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC)
	x, err := uc.Enroll(ctx, identity.EnrollInput{
		Name:        "  Minh ",
		DateOfBirth: &dob,
		Images: []identity.Image{
			{Name: "front.jpg", Data: []byte("front")},
			{Name: "nothing.jpg", Data: []byte("empty")},
			{Name: "broken.jpg", Data: []byte("???")},
			{Name: "group.jpg", Data: []byte("group")},
		},
	})
	gt.NoError(t, err)
	gt.Equal(t, x.Name, "Minh")
	gt.A(t, x.Embeddings).Length(2)
	// largest face of the group photo
	gt.Equal(t, x.Embeddings[1], model.Embedding{0.3, 0.3})

	stored, err := repo.GetIdentity(ctx, x.ID)
	gt.NoError(t, err)
	gt.A(t, stored.Embeddings).Length(2)
	gt.True(t, stored.DateOfBirth.Equal(dob))
}

func TestEnrollRejects(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := identity.New(repo, identity.WithDetector(newDetector()))

	t.Run("no face in any image", func(t *testing.T) {
		_, err := uc.Enroll(ctx, identity.EnrollInput{
			Name:   "Minh",
			Images: []identity.Image{{Name: "a", Data: []byte("empty")}},
		})
		gt.True(t, errors.Is(err, identity.ErrNoFace))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := uc.Enroll(ctx, identity.EnrollInput{
			Name:   " ",
			Images: []identity.Image{{Name: "a", Data: []byte("front")}},
		})
		gt.True(t, errors.Is(err, model.ErrInvalidIdentity))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := uc.Enroll(ctx, identity.EnrollInput{
			Name: "Minh",
			Images: []identity.Image{
				{Name: "a", Data: []byte("front")},
				{Name: "b", Data: []byte("mismat")},
			},
		})
		gt.True(t, errors.Is(err, model.ErrInvalidIdentity))
	})

	t.Run("no detector", func(t *testing.T) {
		_, err := identity.New(repo).Enroll(ctx, identity.EnrollInput{
			Name:   "Minh",
			Images: []identity.Image{{Name: "a", Data: []byte("front")}},
		})
		gt.Error(t, err)
	})

	count, err := repo.CountIdentities(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 0)
}

func TestEnrollPregenerate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	resolver := &mockResolver{}
	uc := identity.New(repo,
		identity.WithDetector(newDetector()),
		identity.WithGreeting(resolver, &mockPlayer{}),
		identity.WithPregenerate(true))

	x, err := uc.Enroll(ctx, identity.EnrollInput{
		Name:   "Minh",
		Images: []identity.Image{{Name: "a", Data: []byte("front")}},
	})
	gt.NoError(t, err)
	uc.Wait()

	gt.Equal(t, resolver.calls, []model.IdentityID{x.ID})
}

func TestAddImages(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := identity.New(repo, identity.WithDetector(newDetector()))

	x, err := uc.Enroll(ctx, identity.EnrollInput{
		Name:   "Minh",
		Images: []identity.Image{{Name: "a", Data: []byte("front")}},
	})
	gt.NoError(t, err)

	updated, err := uc.AddImages(ctx, x.ID, []identity.Image{{Name: "b", Data: []byte("side")}})
	gt.NoError(t, err)
	gt.A(t, updated.Embeddings).Length(2)

	_, err = uc.AddImages(ctx, "unknown", []identity.Image{{Name: "b", Data: []byte("side")}})
	gt.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := identity.New(repo, identity.WithDetector(newDetector()))

	x, err := uc.Enroll(ctx, identity.EnrollInput{
		Name:   "Minh",
		Images: []identity.Image{{Name: "a", Data: []byte("front")}},
	})
	gt.NoError(t, err)

	list, err := uc.List(ctx)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)

	gt.NoError(t, uc.Delete(ctx, x.ID))
	_, err = uc.Show(ctx, x.ID)
	gt.True(t, errors.Is(err, repository.ErrNotFound))

	err = uc.Delete(ctx, x.ID)
	gt.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	resolver := &mockResolver{}
	player := &mockPlayer{}
	uc := identity.New(repo, identity.WithGreeting(resolver, player))

	audio, err := uc.Preview(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, string(audio.Data), "P")
	gt.Equal(t, player.played, 1)

	resolver.err = errors.New("synthesis unavailable")
	_, err = uc.Preview(ctx, "alice")
	gt.Error(t, err)
	gt.Equal(t, player.played, 1)

	_, err = identity.New(repo).Preview(ctx, "alice")
	gt.Error(t, err)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := identity.New(repo)

	gt.NoError(t, uc.SetSetting(ctx, model.SettingDistanceThreshold, "0.5"))
	gt.NoError(t, uc.SetSetting(ctx, model.SettingConfidenceThreshold, "70"))
	gt.NoError(t, uc.SetSetting(ctx, model.SettingGoogleAPIKey, "secret"))

	v, ok, err := uc.GetSetting(ctx, model.SettingGoogleAPIKey)
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.Equal(t, v, "secret")

	policy, err := uc.LoadPolicy(ctx, match.DefaultPolicy())
	gt.NoError(t, err)
	gt.Equal(t, policy.DistanceThreshold, 0.5)
	gt.Equal(t, policy.ConfidenceThreshold, 70)

	for _, tc := range []struct {
		key   model.SettingKey
		value string
	}{
		{model.SettingDistanceThreshold, "abc"},
		{model.SettingDistanceThreshold, "-1"},
		{model.SettingConfidenceThreshold, "101"},
		{model.SettingConfidenceThreshold, "0.5"},
		{"unknown", "x"},
	} {
		t.Run(string(tc.key)+"="+tc.value, func(t *testing.T) {
			err := uc.SetSetting(ctx, tc.key, tc.value)
			gt.True(t, errors.Is(err, identity.ErrInvalidSetting))
		})
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	uc := identity.New(repository.NewMemory())
	policy, err := uc.LoadPolicy(context.Background(), match.DefaultPolicy())
	gt.NoError(t, err)
	gt.Equal(t, policy, match.DefaultPolicy())
}
