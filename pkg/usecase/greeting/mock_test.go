package greeting_test

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
)

type mockSynthesizer struct {
	mu    sync.Mutex
	calls int
	texts []string
	voice model.Voice
	err   error

	// during runs before the result is returned
	during func()
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string, voice model.Voice) (*model.Audio, error) {
	if m.during != nil {
		m.during()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = append(m.texts, text)
	m.voice = voice
	if m.err != nil {
		return nil, m.err
	}
	return &model.Audio{
		Data:       []byte("P:" + text),
		Format:     model.AudioFormatPCM16,
		SampleRate: 24000,
		Channels:   1,
	}, nil
}

func (m *mockSynthesizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// factory returns a SynthesizerFactory handing out m and recording the key
func (m *mockSynthesizer) factory(keys *[]string) adapter.SynthesizerFactory {
	return func(ctx context.Context, apiKey string) (adapter.Synthesizer, error) {
		if keys != nil {
			*keys = append(*keys, apiKey)
		}
		return m, nil
	}
}

type mockPlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
	ch     chan []byte
}

func (m *mockPlayer) Play(ctx context.Context, audio *model.Audio) error {
	m.mu.Lock()
	m.played = append(m.played, audio.Data)
	err := m.err
	ch := m.ch
	m.mu.Unlock()

	if ch != nil {
		ch <- audio.Data
	}
	return err
}

func (m *mockPlayer) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

type mockEvents struct {
	mu     sync.Mutex
	events []*model.Event
}

func (m *mockEvents) Record(ctx context.Context, ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockEvents) Kinds() []model.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []model.EventKind
	for _, ev := range m.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// blockingResolver blocks inside Resolve until release is closed
type blockingResolver struct {
	entered chan model.IdentityID
	release chan struct{}

	mu      sync.Mutex
	active  int
	maxSeen int
}

func newBlockingResolver() *blockingResolver {
	return &blockingResolver{
		entered: make(chan model.IdentityID, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingResolver) Resolve(ctx context.Context, id model.IdentityID) (*model.Audio, error) {
	r.mu.Lock()
	r.active++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	r.mu.Unlock()

	r.entered <- id
	<-r.release

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	return &model.Audio{Data: []byte(id), Format: model.AudioFormatPCM16, SampleRate: 24000, Channels: 1}, nil
}

func (r *blockingResolver) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}

var errSynthesis = errors.New("provider returned 500")
