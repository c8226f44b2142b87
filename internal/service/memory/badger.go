package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKV persists values in an embedded Badger database.
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV opens (or creates) the database at path. An empty path opens
// an in-memory instance.
func NewBadgerKV(path string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerKV{db: db}, nil
}

func (s *BadgerKV) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(compositeKey(namespace, key)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return value, true, nil
}

func (s *BadgerKV) Put(_ context.Context, namespace []string, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(compositeKey(namespace, key)), value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (s *BadgerKV) Close() error {
	return s.db.Close()
}
