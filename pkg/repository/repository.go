package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound is returned when a requested identity does not exist
	ErrNotFound = goerr.New("not found")
)

// Repository defines the interface for enrolled identity and settings persistence
type Repository interface {
	// GetIdentity retrieves an identity by ID. Returns ErrNotFound if absent.
	GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error)

	// ListIdentities retrieves all enrolled identities in a stable order
	ListIdentities(ctx context.Context) ([]*model.Identity, error)

	// CountIdentities returns number of enrolled identities
	CountIdentities(ctx context.Context) (int, error)

	// PutIdentity creates or replaces an identity
	PutIdentity(ctx context.Context, identity *model.Identity) error

	// UpdateGreetingAudio stores audio as the cached greeting of an existing
	// identity. Returns ErrNotFound if the identity has been deleted; the
	// record is never recreated.
	UpdateGreetingAudio(ctx context.Context, id model.IdentityID, audio *model.Audio, updatedAt time.Time) error

	// DeleteIdentity removes an identity. Deleting an absent ID is not an error.
	DeleteIdentity(ctx context.Context, id model.IdentityID) error

	// GetSetting retrieves a setting value. ok is false if the key is not set.
	GetSetting(ctx context.Context, key model.SettingKey) (value string, ok bool, err error)

	// PutSetting stores a setting value
	PutSetting(ctx context.Context, key model.SettingKey, value string) error
}
