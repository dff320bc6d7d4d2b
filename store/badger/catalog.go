package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/id"
)

func definitionKey(name string) string { return prefixDefinition + name }

// RegisterDefinition creates or replaces a definition by name.
func (s *Store) RegisterDefinition(_ context.Context, d *catalog.EventDefinition) error {
	return s.update(func(txn *badgerdb.Txn) error {
		var existing catalog.EventDefinition
		err := getJSON(txn, definitionKey(d.Definition.Name), &existing, rewind.ErrDefinitionNotFound)
		switch {
		case err == nil:
			d.ID = existing.ID
			d.CreatedAt = existing.CreatedAt
			d.UpdatedAt = time.Now().UTC()
			d.Deprecated = false
			d.DeprecatedAt = nil
		case !errors.Is(err, rewind.ErrDefinitionNotFound):
			return err
		}
		if err := setJSON(txn, definitionKey(d.Definition.Name), d); err != nil {
			return err
		}
		return txn.Set([]byte(prefixDefByID+d.ID.String()), []byte(d.Definition.Name))
	})
}

// GetDefinition returns a definition by name.
func (s *Store) GetDefinition(_ context.Context, name string) (*catalog.EventDefinition, error) {
	var d catalog.EventDefinition
	err := s.view(func(txn *badgerdb.Txn) error {
		return getJSON(txn, definitionKey(name), &d, rewind.ErrDefinitionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDefinitionByID returns a definition by its ID.
func (s *Store) GetDefinitionByID(_ context.Context, defID id.ID) (*catalog.EventDefinition, error) {
	var d catalog.EventDefinition
	err := s.view(func(txn *badgerdb.Txn) error {
		name, err := getString(txn, prefixDefByID+defID.String(), rewind.ErrDefinitionNotFound)
		if err != nil {
			return err
		}
		return getJSON(txn, definitionKey(name), &d, rewind.ErrDefinitionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) definitions(match func(*catalog.EventDefinition) bool) ([]*catalog.EventDefinition, error) {
	var out []*catalog.EventDefinition
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixDefinition, func(_, val []byte) error {
			var d catalog.EventDefinition
			if err := json.Unmarshal(val, &d); err != nil {
				return err
			}
			if match(&d) {
				out = append(out, &d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list definitions: %w", err)
	}
	return out, nil
}

// ListDefinitions returns definitions ordered by name (the key order).
func (s *Store) ListDefinitions(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventDefinition, error) {
	result, err := s.definitions(func(d *catalog.EventDefinition) bool {
		if !opts.IncludeDeprecated && d.Deprecated {
			return false
		}
		return opts.Group == "" || d.Definition.Group == opts.Group
	})
	if err != nil {
		return nil, err
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeprecateDefinition soft-deletes a definition.
func (s *Store) DeprecateDefinition(_ context.Context, name string) error {
	return s.update(func(txn *badgerdb.Txn) error {
		var d catalog.EventDefinition
		if err := getJSON(txn, definitionKey(name), &d, rewind.ErrDefinitionNotFound); err != nil {
			return err
		}
		now := time.Now().UTC()
		d.Deprecated = true
		d.DeprecatedAt = &now
		d.UpdatedAt = now
		return setJSON(txn, definitionKey(name), &d)
	})
}

// MatchDefinitions returns non-deprecated definitions matching pattern.
func (s *Store) MatchDefinitions(_ context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	return s.definitions(func(d *catalog.EventDefinition) bool {
		return !d.Deprecated && catalog.Match(pattern, d.Definition.Name)
	})
}
