package match

import (
	"context"
	"sync"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Gallery is an in-memory snapshot of enrolled identities. It is replaced
// wholesale on Load and only mutated in place by Update.
type Gallery struct {
	repo repository.Repository

	mu         sync.RWMutex
	identities []*model.Identity
	index      map[model.IdentityID]int
}

// NewGallery creates an empty gallery bound to repo. Call Load before use.
func NewGallery(repo repository.Repository) *Gallery {
	return &Gallery{
		repo:  repo,
		index: make(map[model.IdentityID]int),
	}
}

// Load replaces the snapshot with every valid identity in the repository.
// Malformed identities are logged and never matched against.
func (g *Gallery) Load(ctx context.Context) error {
	list, err := g.repo.ListIdentities(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to load gallery")
	}

	identities := make([]*model.Identity, 0, len(list))
	index := make(map[model.IdentityID]int, len(list))
	for _, x := range list {
		if err := x.Validate(); err != nil {
			logging.From(ctx).Warn("exclude invalid identity from gallery",
				"id", x.ID,
				"name", x.Name,
				"error", err)
			continue
		}
		if _, dup := index[x.ID]; dup {
			continue
		}
		index[x.ID] = len(identities)
		identities = append(identities, x)
	}

	g.mu.Lock()
	g.identities = identities
	g.index = index
	g.mu.Unlock()

	logging.From(ctx).Debug("gallery loaded", "count", len(identities), "stored", len(list))
	return nil
}

// RefreshIfChanged reloads the gallery when the stored identity count differs
// from the loaded one. It reports whether a reload happened.
//
// Invalid identities count in the store but not in the snapshot, so a store
// holding any of them reloads on every call.
func (g *Gallery) RefreshIfChanged(ctx context.Context) (bool, error) {
	count, err := g.repo.CountIdentities(ctx)
	if err != nil {
		return false, goerr.Wrap(err, "failed to count identities")
	}

	if count == g.Len() {
		return false, nil
	}

	if err := g.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Identities returns the current snapshot in gallery order. The slice must
// not be modified.
func (g *Gallery) Identities() []*model.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.identities
}

// Get returns the identity with id from the snapshot
func (g *Gallery) Get(id model.IdentityID) (*model.Identity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.identities[i], true
}

// Update swaps in a newer version of an identity already in the snapshot,
// e.g. after its greeting audio has been cached. Unknown ids are ignored.
func (g *Gallery) Update(identity *model.Identity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[identity.ID]
	if !ok {
		return false
	}

	// copy-on-write so readers holding an older snapshot are unaffected
	next := make([]*model.Identity, len(g.identities))
	copy(next, g.identities)
	next[i] = identity
	g.identities = next
	return true
}

// Len returns the number of identities in the snapshot
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.identities)
}
