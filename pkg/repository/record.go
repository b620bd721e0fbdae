package repository

import (
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
)

// identityRecord is the storage shape of model.Identity for key-value
// backends. Legacy holds records enrolled before multiple embeddings per
// person were supported.
type identityRecord struct {
	ID          string       `msgpack:"id"`
	Name        string       `msgpack:"name"`
	DateOfBirth *time.Time   `msgpack:"date_of_birth,omitempty"`
	Embeddings  [][]float32  `msgpack:"embeddings,omitempty"`
	Legacy      []float32    `msgpack:"embedding,omitempty"`
	Greeting    *audioRecord `msgpack:"greeting,omitempty"`
	CreatedAt   time.Time    `msgpack:"created_at"`
	UpdatedAt   time.Time    `msgpack:"updated_at"`
}

type audioRecord struct {
	Data       []byte `msgpack:"data" firestore:"data"`
	Format     string `msgpack:"format" firestore:"format"`
	SampleRate int    `msgpack:"sample_rate" firestore:"sample_rate"`
	Channels   int    `msgpack:"channels" firestore:"channels"`
}

func newIdentityRecord(x *model.Identity) *identityRecord {
	rec := &identityRecord{
		ID:          string(x.ID),
		Name:        x.Name,
		DateOfBirth: x.DateOfBirth,
		Embeddings:  make([][]float32, len(x.Embeddings)),
		CreatedAt:   x.CreatedAt,
		UpdatedAt:   x.UpdatedAt,
	}
	for i, emb := range x.Embeddings {
		rec.Embeddings[i] = append([]float32(nil), emb...)
	}
	rec.Greeting = newAudioRecord(x.GreetingAudio)
	return rec
}

func newAudioRecord(a *model.Audio) *audioRecord {
	if a == nil {
		return nil
	}
	return &audioRecord{
		Data:       append([]byte(nil), a.Data...),
		Format:     string(a.Format),
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
	}
}

// toModel converts the record and migrates the legacy single embedding into
// a one-element Embeddings slice.
func (r *identityRecord) toModel() *model.Identity {
	x := &model.Identity{
		ID:          model.IdentityID(r.ID),
		Name:        r.Name,
		DateOfBirth: r.DateOfBirth,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	for _, emb := range r.Embeddings {
		x.Embeddings = append(x.Embeddings, model.Embedding(emb))
	}
	if len(x.Embeddings) == 0 && len(r.Legacy) > 0 {
		x.Embeddings = []model.Embedding{model.Embedding(r.Legacy)}
	}

	x.GreetingAudio = r.Greeting.toModel()

	return x
}

// toModel returns nil for a missing or empty recording
func (r *audioRecord) toModel() *model.Audio {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	return &model.Audio{
		Data:       r.Data,
		Format:     model.AudioFormat(r.Format),
		SampleRate: r.SampleRate,
		Channels:   r.Channels,
	}
}

func cloneIdentity(x *model.Identity) *model.Identity {
	if x == nil {
		return nil
	}
	return newIdentityRecord(x).toModel()
}
