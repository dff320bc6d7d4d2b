// Package badger provides an embedded Store backed by BadgerDB. It suits
// single-node deployments that want durability without a database server.
//
// Aggregates are stored as JSON under typed key prefixes; events are stored
// in their wire encoding keyed by session and sequence.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	rewindstore "github.com/xraph/rewind/store"
)

// compile-time interface check.
var _ rewindstore.Store = (*Store)(nil)

// Key prefixes.
const (
	prefixSession    = "sess/"
	prefixBatch      = "batch/"
	prefixEvent      = "evt/"
	prefixGroup      = "grp/"
	prefixGroupFP    = "grpfp/"
	prefixDefinition = "def/"
	prefixDefByID    = "defid/"
	prefixQuarantine = "qrn/"
	prefixProject    = "proj/"
	prefixProjectKey = "projkey/"
)

// Store implements store.Store on BadgerDB.
type Store struct {
	db     *badgerdb.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) a database at path. An empty path keeps
// everything in memory.
func Open(path string, opts ...Option) (*Store, error) {
	bopts := badgerdb.DefaultOptions(path)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: open: %w", err)
	}
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying database.
func (s *Store) DB() *badgerdb.DB { return s.db }

// Migrate is a no-op: the key layout needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return rewind.ErrStoreClosed
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) view(fn func(*badgerdb.Txn) error) error {
	if s.db.IsClosed() {
		return rewind.ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*badgerdb.Txn) error) error {
	if s.db.IsClosed() {
		return rewind.ErrStoreClosed
	}
	return s.db.Update(fn)
}

// getJSON decodes the value at key into v. It returns notFound when the
// key is absent.
func getJSON(txn *badgerdb.Txn, key string, v any, notFound error) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getString(txn *badgerdb.Txn, key string, notFound error) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", notFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func setJSON(txn *badgerdb.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func exists(txn *badgerdb.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn with every value under prefix in key order.
func scan(txn *badgerdb.Txn, prefix string, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// keys returns every key under prefix without reading values.
func keys(txn *badgerdb.Txn, prefix string) [][]byte {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}

// deletePrefix removes every key under prefix and returns how many.
func (s *Store) deletePrefix(prefix string) (int, error) {
	var ks [][]byte
	if err := s.view(func(txn *badgerdb.Txn) error {
		ks = keys(txn, prefix)
		return nil
	}); err != nil {
		return 0, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range ks {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(ks), nil
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
