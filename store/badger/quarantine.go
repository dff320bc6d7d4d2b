package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/quarantine"
)

func quarantineKey(entryID id.ID) string { return prefixQuarantine + entryID.String() }

// PushQuarantine stores rejected events in one transaction.
func (s *Store) PushQuarantine(_ context.Context, entries ...*quarantine.Entry) error {
	return s.update(func(txn *badgerdb.Txn) error {
		for _, e := range entries {
			if err := setJSON(txn, quarantineKey(e.ID), e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetQuarantine returns an entry by ID.
func (s *Store) GetQuarantine(_ context.Context, entryID id.ID) (*quarantine.Entry, error) {
	var e quarantine.Entry
	err := s.view(func(txn *badgerdb.Txn) error {
		return getJSON(txn, quarantineKey(entryID), &e, rewind.ErrQuarantineNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) quarantined(opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	var out []*quarantine.Entry
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixQuarantine, func(_, val []byte) error {
			var e quarantine.Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			if opts.Match(&e) {
				out = append(out, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list quarantine: %w", err)
	}
	return out, nil
}

// ListQuarantine returns entries newest first.
func (s *Store) ListQuarantine(_ context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	result, err := s.quarantined(opts)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].FailedAt.Equal(result[j].FailedAt) {
			return result[i].FailedAt.After(result[j].FailedAt)
		}
		return result[i].Index < result[j].Index
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountQuarantine counts entries matching opts.
func (s *Store) CountQuarantine(_ context.Context, opts quarantine.ListOpts) (int64, error) {
	result, err := s.quarantined(opts)
	return int64(len(result)), err
}

// MarkReplayed stamps an entry as replayed.
func (s *Store) MarkReplayed(_ context.Context, entryID id.ID, at time.Time) error {
	return s.update(func(txn *badgerdb.Txn) error {
		var e quarantine.Entry
		if err := getJSON(txn, quarantineKey(entryID), &e, rewind.ErrQuarantineNotFound); err != nil {
			return err
		}
		at = at.UTC()
		e.ReplayedAt = &at
		e.Touch()
		return setJSON(txn, quarantineKey(entryID), &e)
	})
}

// PurgeQuarantine deletes entries that failed before the threshold.
func (s *Store) PurgeQuarantine(_ context.Context, before time.Time) (int64, error) {
	old, err := s.quarantined(quarantine.ListOpts{To: &before})
	if err != nil {
		return 0, err
	}
	err = s.update(func(txn *badgerdb.Txn) error {
		for _, e := range old {
			if err := txn.Delete([]byte(quarantineKey(e.ID))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rewind/badger: purge quarantine: %w", err)
	}
	return int64(len(old)), nil
}
