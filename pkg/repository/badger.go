package repository

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	identityPrefix = "identity:"
	settingPrefix  = "setting:"
)

// Badger implements Repository on an embedded BadgerDB. Records are msgpack
// encoded under "identity:<id>" and "setting:<key>".
type Badger struct {
	db *badger.DB
}

var _ Repository = (*Badger)(nil)

// BadgerOption is a functional option for Badger repository
type BadgerOption func(*badger.Options)

// WithBadgerInMemory runs BadgerDB without disk persistence
func WithBadgerInMemory() BadgerOption {
	return func(o *badger.Options) {
		*o = o.WithDir("").WithValueDir("").WithInMemory(true)
	}
}

// NewBadger opens (or creates) a BadgerDB at dir
func NewBadger(dir string, opts ...BadgerOption) (*Badger, error) {
	dbOpts := badger.DefaultOptions(dir).WithLogger(nil)
	for _, opt := range opts {
		opt(&dbOpts)
	}
	if !dbOpts.InMemory && dir == "" {
		return nil, goerr.New("badger directory is required")
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open badger", goerr.V("dir", dir))
	}

	return &Badger{db: db}, nil
}

// Close releases the underlying database
func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close badger")
	}
	return nil
}

func identityKey(id model.IdentityID) []byte {
	return []byte(identityPrefix + string(id))
}

func settingKey(key model.SettingKey) []byte {
	return []byte(settingPrefix + string(key))
}

func (b *Badger) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get identity", goerr.V("id", id))
	}

	var rec identityRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode identity", goerr.V("id", id))
	}
	return rec.toModel(), nil
}

func (b *Badger) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	var result []*model.Identity
	prefix := []byte(identityPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return goerr.Wrap(err, "failed to read identity", goerr.V("key", string(item.Key())))
			}

			var rec identityRecord
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				// A broken record must not hide the rest of the gallery
				logging.From(ctx).Warn("skip undecodable identity record",
					"key", string(item.Key()),
					"error", err)
				continue
			}
			result = append(result, rec.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list identities")
	}

	return result, nil
}

func (b *Badger) CountIdentities(ctx context.Context) (int, error) {
	count := 0
	prefix := []byte(identityPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count identities")
	}
	return count, nil
}

func (b *Badger) PutIdentity(ctx context.Context, identity *model.Identity) error {
	if identity == nil || identity.ID == "" {
		return goerr.New("identity ID is required")
	}

	raw, err := msgpack.Marshal(newIdentityRecord(identity))
	if err != nil {
		return goerr.Wrap(err, "failed to encode identity", goerr.V("id", identity.ID))
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey(identity.ID), raw)
	}); err != nil {
		return goerr.Wrap(err, "failed to put identity", goerr.V("id", identity.ID))
	}
	return nil
}

func (b *Badger) UpdateGreetingAudio(ctx context.Context, id model.IdentityID, audio *model.Audio, updatedAt time.Time) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			return err
		}

		var rec identityRecord
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		}); err != nil {
			return goerr.Wrap(err, "failed to decode identity")
		}

		rec.Greeting = newAudioRecord(audio)
		rec.UpdatedAt = updatedAt
		raw, err := msgpack.Marshal(&rec)
		if err != nil {
			return goerr.Wrap(err, "failed to encode identity")
		}
		return txn.Set(identityKey(id), raw)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return goerr.Wrap(ErrNotFound, "identity not found", goerr.V("id", id))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to update greeting audio", goerr.V("id", id))
	}
	return nil
}

func (b *Badger) DeleteIdentity(ctx context.Context, id model.IdentityID) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(identityKey(id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return goerr.Wrap(err, "failed to delete identity", goerr.V("id", id))
	}
	return nil
}

func (b *Badger) GetSetting(ctx context.Context, key model.SettingKey) (string, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to get setting", goerr.V("key", key))
	}
	return string(raw), true, nil
}

func (b *Badger) PutSetting(ctx context.Context, key model.SettingKey, value string) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(settingKey(key), []byte(value))
	}); err != nil {
		return goerr.Wrap(err, "failed to put setting", goerr.V("key", key))
	}
	return nil
}
