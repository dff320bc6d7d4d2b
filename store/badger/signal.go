package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/signal"
)

func groupKey(groupID id.ID) string { return prefixGroup + groupID.String() }

func groupFPKey(projectID id.ID, fingerprint string) string {
	return prefixGroupFP + projectID.String() + "/" + fingerprint
}

// UpsertErrorGroup inserts or replaces a group and its fingerprint index.
func (s *Store) UpsertErrorGroup(_ context.Context, g *signal.ErrorGroup) error {
	return s.update(func(txn *badgerdb.Txn) error {
		if err := setJSON(txn, groupKey(g.ID), g); err != nil {
			return err
		}
		return txn.Set([]byte(groupFPKey(g.ProjectID, g.Fingerprint)), []byte(g.ID.String()))
	})
}

// GetErrorGroup returns a group by ID.
func (s *Store) GetErrorGroup(_ context.Context, groupID id.ID) (*signal.ErrorGroup, error) {
	var g signal.ErrorGroup
	err := s.view(func(txn *badgerdb.Txn) error {
		return getJSON(txn, groupKey(groupID), &g, rewind.ErrErrorGroupNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetErrorGroupByFingerprint resolves a fingerprint through its index key.
func (s *Store) GetErrorGroupByFingerprint(_ context.Context, projectID id.ID, fingerprint string) (*signal.ErrorGroup, error) {
	var g signal.ErrorGroup
	err := s.view(func(txn *badgerdb.Txn) error {
		raw, err := getString(txn, groupFPKey(projectID, fingerprint), rewind.ErrErrorGroupNotFound)
		if err != nil {
			return err
		}
		return getJSON(txn, prefixGroup+raw, &g, rewind.ErrErrorGroupNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListErrorGroups returns groups most frequent first.
func (s *Store) ListErrorGroups(_ context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	var result []*signal.ErrorGroup
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixGroup, func(_, val []byte) error {
			var g signal.ErrorGroup
			if err := json.Unmarshal(val, &g); err != nil {
				return err
			}
			if opts.Match(&g) {
				result = append(result, &g)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list error groups: %w", err)
	}
	signal.SortGroups(result)
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteErrorGroups removes every group of a project.
func (s *Store) DeleteErrorGroups(ctx context.Context, projectID id.ID) (int64, error) {
	groups, err := s.ListErrorGroups(ctx, signal.ListOpts{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	err = s.update(func(txn *badgerdb.Txn) error {
		for _, g := range groups {
			if err := txn.Delete([]byte(groupKey(g.ID))); err != nil {
				return err
			}
			if err := txn.Delete([]byte(groupFPKey(g.ProjectID, g.Fingerprint))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rewind/badger: delete error groups: %w", err)
	}
	return int64(len(groups)), nil
}
