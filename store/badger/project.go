package badger

import (
	"context"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
)

// projectRecord persists the ingest key, which Project never serializes.
type projectRecord struct {
	Project   *project.Project `json:"project"`
	IngestKey string           `json:"ingest_key"`
}

func projectKey(projectID id.ID) string { return prefixProject + projectID.String() }

func ingestKey(key string) string { return prefixProjectKey + key }

func readProject(txn *badgerdb.Txn, projectID id.ID) (*project.Project, error) {
	var rec projectRecord
	if err := getJSON(txn, projectKey(projectID), &rec, rewind.ErrProjectNotFound); err != nil {
		return nil, err
	}
	rec.Project.IngestKey = rec.IngestKey
	return rec.Project, nil
}

func writeProject(txn *badgerdb.Txn, p *project.Project) error {
	if err := setJSON(txn, projectKey(p.ID), projectRecord{Project: p, IngestKey: p.IngestKey}); err != nil {
		return err
	}
	return txn.Set([]byte(ingestKey(p.IngestKey)), []byte(p.ID.String()))
}

// CreateProject persists a new project.
func (s *Store) CreateProject(_ context.Context, p *project.Project) error {
	return s.update(func(txn *badgerdb.Txn) error {
		return writeProject(txn, p)
	})
}

// GetProject returns a project by ID.
func (s *Store) GetProject(_ context.Context, projectID id.ID) (*project.Project, error) {
	var p *project.Project
	err := s.view(func(txn *badgerdb.Txn) error {
		var err error
		p, err = readProject(txn, projectID)
		return err
	})
	return p, err
}

// GetProjectByKey resolves an ingest key.
func (s *Store) GetProjectByKey(_ context.Context, key string) (*project.Project, error) {
	var p *project.Project
	err := s.view(func(txn *badgerdb.Txn) error {
		raw, err := getString(txn, ingestKey(key), rewind.ErrProjectNotFound)
		if err != nil {
			return err
		}
		pid, err := id.ParseProjectID(raw)
		if err != nil {
			return err
		}
		p, err = readProject(txn, pid)
		return err
	})
	return p, err
}

// UpdateProject replaces a project, moving its ingest key index on rotation.
func (s *Store) UpdateProject(_ context.Context, p *project.Project) error {
	return s.update(func(txn *badgerdb.Txn) error {
		old, err := readProject(txn, p.ID)
		if err != nil {
			return err
		}
		if old.IngestKey != p.IngestKey {
			if err := txn.Delete([]byte(ingestKey(old.IngestKey))); err != nil {
				return err
			}
		}
		return writeProject(txn, p)
	})
}

// DeleteProject removes a project and its key index.
func (s *Store) DeleteProject(_ context.Context, projectID id.ID) error {
	return s.update(func(txn *badgerdb.Txn) error {
		p, err := readProject(txn, projectID)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(ingestKey(p.IngestKey))); err != nil {
			return err
		}
		return txn.Delete([]byte(projectKey(projectID)))
	})
}

// ListProjects returns projects ordered by name.
func (s *Store) ListProjects(_ context.Context, opts project.ListOpts) ([]*project.Project, error) {
	var result []*project.Project
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixProject, func(_, val []byte) error {
			var rec projectRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if opts.Enabled != nil && rec.Project.RecordingEnabled != *opts.Enabled {
				return nil
			}
			rec.Project.IngestKey = rec.IngestKey
			result = append(result, rec.Project)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list projects: %w", err)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}
