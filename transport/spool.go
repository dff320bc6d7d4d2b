package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/xraph/rewind/event"
)

const spoolPrefix = "batch/"

// Spool persists batches that could not be delivered so a later Start can
// resend them.
type Spool interface {
	Put(ctx context.Context, b *event.Batch) error
	// Drain calls fn for each spooled batch in the order they were created
	// and removes the ones fn accepts. It stops at the first fn error.
	Drain(ctx context.Context, fn func(*event.Batch) error) (int, error)
}

// BadgerSpool is a Spool backed by an embedded badger database.
type BadgerSpool struct {
	db *badger.DB
}

var _ Spool = (*BadgerSpool)(nil)

// OpenSpool opens (or creates) a spool at path. An empty path keeps the
// spool in memory.
func OpenSpool(path string) (*BadgerSpool, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("transport: open spool: %w", err)
	}
	return &BadgerSpool{db: db}, nil
}

// Close releases the database.
func (s *BadgerSpool) Close() error {
	return s.db.Close()
}

// Put stores b keyed by its batch id. Batch ids sort by creation time.
func (s *BadgerSpool) Put(_ context.Context, b *event.Batch) error {
	data, err := event.EncodeBatch(b)
	if err != nil {
		return fmt.Errorf("transport: spool batch: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(spoolKey(b), data)
	})
}

// Len returns the number of spooled batches.
func (s *BadgerSpool) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(spoolPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Drain implements Spool.
func (s *BadgerSpool) Drain(ctx context.Context, fn func(*event.Batch) error) (int, error) {
	var batches []*event.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(spoolPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				b, _, err := event.DecodeBatch(val)
				if err != nil {
					return err
				}
				batches = append(batches, b)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("transport: read spool: %w", err)
	}

	drained := 0
	for _, b := range batches {
		if err := fn(b); err != nil {
			return drained, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete(spoolKey(b))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return drained, fmt.Errorf("transport: delete spooled batch: %w", err)
		}
		drained++
	}
	return drained, nil
}

func spoolKey(b *event.Batch) []byte {
	return []byte(spoolPrefix + b.ID.String())
}
