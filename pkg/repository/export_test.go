package repository

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/vmihailenco/msgpack/v5"
)

// PutLegacyIdentity stores a record in the single-embedding shape used before
// multiple embeddings per person were supported.
func (b *Badger) PutLegacyIdentity(ctx context.Context, id model.IdentityID, name string, emb []float32) error {
	raw, err := msgpack.Marshal(&identityRecord{
		ID:     string(id),
		Name:   name,
		Legacy: emb,
	})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey(id), raw)
	})
}
