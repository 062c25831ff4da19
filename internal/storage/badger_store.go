package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	operrors "op/internal/errors"
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// Open opens a badger database at dir. An empty dir opens an in-memory
// database.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, operrors.FromIO("opening database", dir, err)
	}
	return db, nil
}

// BadgerStore keeps JSON-encoded entities under "<prefix>:<id>" keys.
// Iteration follows key order, so callers that need numeric ordering
// should zero-pad their ids.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(s.prefix + ":" + id)
}

func (s *BadgerStore) keyPrefix() []byte {
	return []byte(s.prefix + ":")
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), s.prefix+":")
}

func (s *BadgerStore) sequenceKey() []byte {
	return []byte("seq:" + s.prefix)
}

// NextID returns the next value of the store's sequence, starting at 1.
// Values are persisted before they are handed out and never repeat, even
// after the entities using them are deleted.
func (s *BadgerStore) NextID() (uint64, error) {
	seq, err := s.db.GetSequence(s.sequenceKey(), 1)
	if err != nil {
		return 0, fmt.Errorf("acquiring sequence: %w", err)
	}
	defer seq.Release()

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("advancing sequence: %w", err)
	}
	return n + 1, nil
}

func (s *BadgerStore) Create(entity Entity) error {
	if entity.GetID() == "" {
		return operrors.ValidationError("entity ID cannot be empty", nil)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.makeKey(entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("entity already exists: %s", entity.GetID())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(key, data)
	})
}

func (s *BadgerStore) Get(id string, entity Entity) error {
	key := s.makeKey(id)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return operrors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
	}
	return err
}

func (s *BadgerStore) Update(entity Entity) error {
	if entity.GetID() == "" {
		return operrors.ValidationError("entity ID cannot be empty", nil)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.makeKey(entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return operrors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, entity.GetID()))
		} else if err != nil {
			return err
		}

		return txn.Set(key, data)
	})
}

func (s *BadgerStore) Delete(id string) error {
	key := s.makeKey(id)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return operrors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
		} else if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// List decodes every entity under the prefix, in key order, into results,
// which must point to a slice.
func (s *BadgerStore) List(results interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := s.keyPrefix()
		values := []json.RawMessage{}

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, val)
		}

		data, err := json.Marshal(values)
		if err != nil {
			return err
		}

		return json.Unmarshal(data, results)
	})

	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	return nil
}

// IDs returns the ids of every stored entity in key order.
func (s *BadgerStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.keyPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, s.stripPrefix(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return ids, nil
}

// Clear deletes every entity under the prefix and reports how many were
// removed. The sequence is left alone.
func (s *BadgerStore) Clear() (int, error) {
	ids, err := s.IDs()
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, id := range ids {
		if err := wb.Delete(s.makeKey(id)); err != nil {
			return 0, fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flushing deletes: %w", err)
	}
	return len(ids), nil
}
