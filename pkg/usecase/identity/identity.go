package identity

import (
	"sync"
	"time"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
)

// UseCase provides enrollment and administration of identities
type UseCase struct {
	repo        repository.Repository
	detector    adapter.Detector
	cache       greeting.Resolver
	player      adapter.Player
	pregenerate bool
	now         func() time.Time

	wg sync.WaitGroup
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithDetector is required for enrollment
func WithDetector(d adapter.Detector) Option {
	return func(uc *UseCase) {
		uc.detector = d
	}
}

// WithGreeting enables greeting preview and pre-generation
func WithGreeting(cache greeting.Resolver, player adapter.Player) Option {
	return func(uc *UseCase) {
		uc.cache = cache
		uc.player = player
	}
}

// WithPregenerate synthesizes the greeting in the background right after
// enrollment. Call Wait before exiting.
func WithPregenerate(enabled bool) Option {
	return func(uc *UseCase) {
		uc.pregenerate = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new identity UseCase instance
func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo: repo,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Wait blocks until background greeting pre-generation has finished
func (u *UseCase) Wait() {
	u.wg.Wait()
}
