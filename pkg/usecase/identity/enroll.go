package identity

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ErrNoFace is returned when none of the enrollment images contains a face
var ErrNoFace = goerr.New("no face found in any image")

// Image is one enrollment photo
type Image struct {
	Name string
	Data []byte
}

// EnrollInput describes a new person
type EnrollInput struct {
	Name        string
	DateOfBirth *time.Time
	Images      []Image
}

// Enroll extracts one embedding per image and stores a new identity.
// Images without a face are skipped. When an image has several faces the
// largest one is used.
func (u *UseCase) Enroll(ctx context.Context, input EnrollInput) (*model.Identity, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, goerr.Wrap(model.ErrInvalidIdentity, "name is required")
	}

	embeddings, err := u.extract(ctx, input.Images)
	if err != nil {
		return nil, err
	}

	now := u.now()
	identity := &model.Identity{
		ID:          model.NewIdentityID(),
		Name:        name,
		DateOfBirth: input.DateOfBirth,
		Embeddings:  embeddings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	if err := u.repo.PutIdentity(ctx, identity); err != nil {
		return nil, goerr.Wrap(err, "failed to save identity")
	}
	logging.From(ctx).Info("identity enrolled",
		"id", identity.ID,
		"name", identity.Name,
		"embeddings", len(identity.Embeddings))

	if u.pregenerate && u.cache != nil {
		u.startPregenerate(ctx, identity.ID)
	}

	return identity, nil
}

// AddImages appends embeddings from more photos to an existing identity
func (u *UseCase) AddImages(ctx context.Context, id model.IdentityID, images []Image) (*model.Identity, error) {
	identity, err := u.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	embeddings, err := u.extract(ctx, images)
	if err != nil {
		return nil, err
	}

	identity.Embeddings = append(identity.Embeddings, embeddings...)
	identity.UpdatedAt = u.now()
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	if err := u.repo.PutIdentity(ctx, identity); err != nil {
		return nil, goerr.Wrap(err, "failed to save identity", goerr.V("id", id))
	}
	return identity, nil
}

func (u *UseCase) extract(ctx context.Context, images []Image) ([]model.Embedding, error) {
	if u.detector == nil {
		return nil, goerr.New("face detector is not configured")
	}
	if len(images) == 0 {
		return nil, goerr.New("at least one image is required")
	}

	var embeddings []model.Embedding
	for _, img := range images {
		detections, err := u.detector.Detect(ctx, img.Data)
		if err != nil {
			logging.From(ctx).Warn("skip image, detection failed", "image", img.Name, "error", err)
			continue
		}
		if len(detections) == 0 {
			logging.From(ctx).Warn("skip image, no face found", "image", img.Name)
			continue
		}

		best := detections[0]
		for _, d := range detections[1:] {
			if area(d) > area(best) {
				best = d
			}
		}
		if len(detections) > 1 {
			logging.From(ctx).Info("several faces found, using the largest", "image", img.Name, "faces", len(detections))
		}
		embeddings = append(embeddings, best.Embedding)
	}

	if len(embeddings) == 0 {
		return nil, goerr.Wrap(ErrNoFace, "enrollment failed", goerr.V("images", len(images)))
	}
	return embeddings, nil
}

func area(d model.Detection) int {
	s := d.Region.Size()
	return s.X * s.Y
}

func (u *UseCase) startPregenerate(ctx context.Context, id model.IdentityID) {
	ctx = context.WithoutCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if _, err := u.cache.Resolve(ctx, id); err != nil {
			logging.From(ctx).Warn("failed to pre-generate greeting", "id", id, "error", err)
			return
		}
		logging.From(ctx).Info("greeting pre-generated", "id", id)
	}()
}
