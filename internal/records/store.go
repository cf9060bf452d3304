package records

import (
	"encoding/base64"
	"path/filepath"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("not found")

// Store is a namespaced key/value store. Records and any future local
// state share one backing database under distinct namespaces.
type Store interface {
	Put(namespace, key string, value []byte) error
	Get(namespace, key string) ([]byte, error)
	ForEach(namespace string, fn func(key, value []byte) error) error
	Delete(namespace, key string) error
	Close() error
}

type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store at path. keyBase64, when set,
// must decode to a 32-byte key and enables encryption at rest.
func OpenBadger(path, keyBase64 string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if keyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyBase64)
		if err != nil {
			return nil, errors.Wrap(err, "decode encryption key")
		}
		if len(key) != 32 {
			return nil, errors.New("encryption key must be 32 bytes")
		}
		opts = opts.WithEncryptionKey(key).WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(namespace, key string, value []byte) error {
	if namespace == "" || key == "" {
		return errors.New("namespace and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(namespace, key), value)
	})
}

func (b *BadgerStore) Get(namespace, key string) ([]byte, error) {
	if namespace == "" || key == "" {
		return nil, errors.New("namespace and key are required")
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(namespace, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) ForEach(namespace string, fn func(key, value []byte) error) error {
	if namespace == "" {
		return errors.New("namespace is required")
	}
	prefix := []byte(namespace + "/")
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()[len(prefix):]
			if err := item.Value(func(val []byte) error {
				return fn(append([]byte{}, key...), val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Delete(namespace, key string) error {
	if namespace == "" || key == "" {
		return errors.New("namespace and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(namespace, key))
	})
}

func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func makeKey(namespace, key string) []byte {
	return []byte(filepath.ToSlash(namespace + "/" + key))
}
