package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionIdentities = "identities"
	collectionSettings   = "settings"
)

// Firestore implements Repository interface using Firestore
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

// Firestore does not allow nested arrays, so each embedding is wrapped in a map
type embeddingDoc struct {
	Vector firestore.Vector32 `firestore:"vector"`
}

type identityDoc struct {
	ID          string             `firestore:"id"`
	Name        string             `firestore:"name"`
	DateOfBirth *time.Time         `firestore:"date_of_birth,omitempty"`
	Embeddings  []embeddingDoc     `firestore:"embeddings"`
	Embedding   firestore.Vector32 `firestore:"embedding,omitempty"`
	Greeting    *audioRecord       `firestore:"greeting,omitempty"`
	CreatedAt   time.Time          `firestore:"created_at"`
	UpdatedAt   time.Time          `firestore:"updated_at"`
}

type settingDoc struct {
	Key   string `firestore:"key"`
	Value string `firestore:"value"`
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close closes the Firestore client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func toIdentityDoc(x *model.Identity) *identityDoc {
	rec := newIdentityRecord(x)
	doc := &identityDoc{
		ID:          rec.ID,
		Name:        rec.Name,
		DateOfBirth: rec.DateOfBirth,
		Embeddings:  make([]embeddingDoc, len(rec.Embeddings)),
		Greeting:    rec.Greeting,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for i, emb := range rec.Embeddings {
		doc.Embeddings[i] = embeddingDoc{Vector: firestore.Vector32(emb)}
	}
	return doc
}

func (d *identityDoc) toModel() *model.Identity {
	rec := &identityRecord{
		ID:          d.ID,
		Name:        d.Name,
		DateOfBirth: d.DateOfBirth,
		Legacy:      []float32(d.Embedding),
		Greeting:    d.Greeting,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, emb := range d.Embeddings {
		rec.Embeddings = append(rec.Embeddings, []float32(emb.Vector))
	}
	return rec.toModel()
}

func (r *Firestore) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	doc, err := r.client.Collection(collectionIdentities).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get identity", goerr.V("id", id))
	}

	var d identityDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode identity", goerr.V("id", id))
	}
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}

	return d.toModel(), nil
}

func (r *Firestore) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	iter := r.client.Collection(collectionIdentities).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var identities []*model.Identity
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate identities")
		}

		var d identityDoc
		if err := doc.DataTo(&d); err != nil {
			logging.From(ctx).Warn("skip undecodable identity document",
				"id", doc.Ref.ID,
				"error", err)
			continue
		}
		if d.ID == "" {
			d.ID = doc.Ref.ID
		}
		identities = append(identities, d.toModel())
	}

	return identities, nil
}

func (r *Firestore) CountIdentities(ctx context.Context) (int, error) {
	results, err := r.client.Collection(collectionIdentities).
		NewAggregationQuery().
		WithCount("all").
		Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count identities")
	}

	v, ok := results["all"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation result", goerr.V("result", results["all"]))
	}

	return int(v.GetIntegerValue()), nil
}

func (r *Firestore) PutIdentity(ctx context.Context, identity *model.Identity) error {
	if identity == nil || identity.ID == "" {
		return goerr.New("identity ID is required")
	}

	_, err := r.client.Collection(collectionIdentities).Doc(string(identity.ID)).Set(ctx, toIdentityDoc(identity))
	if err != nil {
		return goerr.Wrap(err, "failed to put identity", goerr.V("id", identity.ID))
	}
	return nil
}

// UpdateGreetingAudio fails with codes.NotFound on a deleted document
// because Update requires the document to exist
func (r *Firestore) UpdateGreetingAudio(ctx context.Context, id model.IdentityID, audio *model.Audio, updatedAt time.Time) error {
	_, err := r.client.Collection(collectionIdentities).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "greeting", Value: newAudioRecord(audio)},
		{Path: "updated_at", Value: updatedAt},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to update greeting audio", goerr.V("id", id))
	}
	return nil
}

func (r *Firestore) DeleteIdentity(ctx context.Context, id model.IdentityID) error {
	if _, err := r.client.Collection(collectionIdentities).Doc(string(id)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete identity", goerr.V("id", id))
	}
	return nil
}

func (r *Firestore) GetSetting(ctx context.Context, key model.SettingKey) (string, bool, error) {
	doc, err := r.client.Collection(collectionSettings).Doc(string(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to get setting", goerr.V("key", key))
	}

	var d settingDoc
	if err := doc.DataTo(&d); err != nil {
		return "", false, goerr.Wrap(err, "failed to decode setting", goerr.V("key", key))
	}
	return d.Value, true, nil
}

func (r *Firestore) PutSetting(ctx context.Context, key model.SettingKey, value string) error {
	_, err := r.client.Collection(collectionSettings).Doc(string(key)).Set(ctx, &settingDoc{
		Key:   string(key),
		Value: value,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put setting", goerr.V("key", key))
	}
	return nil
}
