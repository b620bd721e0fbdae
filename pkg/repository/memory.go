package repository

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory is an in-process Repository. Identities are listed in insertion order.
type Memory struct {
	mu         sync.RWMutex
	order      []model.IdentityID
	identities map[model.IdentityID]*model.Identity
	settings   map[model.SettingKey]string
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[model.IdentityID]*model.Identity),
		settings:   make(map[model.SettingKey]string),
	}
}

func (m *Memory) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	x, ok := m.identities[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
	}
	return cloneIdentity(x), nil
}

func (m *Memory) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.Identity, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, cloneIdentity(m.identities[id]))
	}
	return result, nil
}

func (m *Memory) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *Memory) PutIdentity(ctx context.Context, identity *model.Identity) error {
	if identity == nil || identity.ID == "" {
		return goerr.New("identity ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[identity.ID]; !ok {
		m.order = append(m.order, identity.ID)
	}
	m.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

func (m *Memory) UpdateGreetingAudio(ctx context.Context, id model.IdentityID, audio *model.Audio, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	x, ok := m.identities[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
	}

	updated := cloneIdentity(x)
	updated.GreetingAudio = newAudioRecord(audio).toModel()
	updated.UpdatedAt = updatedAt
	m.identities[id] = updated
	return nil
}

func (m *Memory) DeleteIdentity(ctx context.Context, id model.IdentityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[id]; !ok {
		return nil
	}
	delete(m.identities, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) GetSetting(ctx context.Context, key model.SettingKey) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) PutSetting(ctx context.Context, key model.SettingKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}
