package identity

import (
	"context"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// List returns every enrolled identity
func (u *UseCase) List(ctx context.Context) ([]*model.Identity, error) {
	return u.repo.ListIdentities(ctx)
}

// Show returns one identity
func (u *UseCase) Show(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	return u.repo.GetIdentity(ctx, id)
}

// Delete removes an identity. Deleting an unknown id is an error so that a
// mistyped id is reported.
func (u *UseCase) Delete(ctx context.Context, id model.IdentityID) error {
	if _, err := u.repo.GetIdentity(ctx, id); err != nil {
		return err
	}
	if err := u.repo.DeleteIdentity(ctx, id); err != nil {
		return goerr.Wrap(err, "failed to delete identity", goerr.V("id", id))
	}
	return nil
}

// Preview plays the greeting of an identity, synthesizing and caching it
// first when needed
func (u *UseCase) Preview(ctx context.Context, id model.IdentityID) (*model.Audio, error) {
	if u.cache == nil || u.player == nil {
		return nil, goerr.New("greeting is not configured")
	}

	audio, err := u.cache.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.player.Play(ctx, audio); err != nil {
		return nil, goerr.Wrap(err, "failed to play greeting", goerr.V("id", id))
	}
	return audio, nil
}
