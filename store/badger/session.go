package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
)

func sessionKey(sessionID id.ID) string { return prefixSession + sessionID.String() }

func batchKey(sessionID, batchID id.ID) string {
	return prefixBatch + sessionID.String() + "/" + batchID.String()
}

// CreateSession persists a new session.
func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	return s.update(func(txn *badgerdb.Txn) error {
		return setJSON(txn, sessionKey(sess.ID), sess)
	})
}

// GetSession returns a session by ID.
func (s *Store) GetSession(_ context.Context, sessionID id.ID) (*session.Session, error) {
	var sess session.Session
	err := s.view(func(txn *badgerdb.Txn) error {
		return getJSON(txn, sessionKey(sessionID), &sess, rewind.ErrSessionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateSession replaces a stored session.
func (s *Store) UpdateSession(_ context.Context, sess *session.Session) error {
	return s.update(func(txn *badgerdb.Txn) error {
		ok, err := exists(txn, sessionKey(sess.ID))
		if err != nil {
			return err
		}
		if !ok {
			return rewind.ErrSessionNotFound
		}
		return setJSON(txn, sessionKey(sess.ID), sess)
	})
}

func (s *Store) allSessions(match func(*session.Session) bool) ([]*session.Session, error) {
	var out []*session.Session
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixSession, func(_, val []byte) error {
			var sess session.Session
			if err := json.Unmarshal(val, &sess); err != nil {
				return err
			}
			if match(&sess) {
				out = append(out, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list sessions: %w", err)
	}
	return out, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	result, err := s.allSessions(opts.Match)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ListIdleSessions returns open sessions last seen before the cutoff.
func (s *Store) ListIdleSessions(_ context.Context, before time.Time, limit int) ([]*session.Session, error) {
	result, err := s.allSessions(func(sess *session.Session) bool {
		return !sess.Closed() && sess.LastSeenAt.Before(before)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastSeenAt.Before(result[j].LastSeenAt)
	})
	return applyPagination(result, 0, limit), nil
}

// DeleteSession removes a session and its claimed batch ids.
func (s *Store) DeleteSession(_ context.Context, sessionID id.ID) error {
	err := s.update(func(txn *badgerdb.Txn) error {
		ok, err := exists(txn, sessionKey(sessionID))
		if err != nil {
			return err
		}
		if !ok {
			return rewind.ErrSessionNotFound
		}
		return txn.Delete([]byte(sessionKey(sessionID)))
	})
	if err != nil {
		return err
	}
	if _, err := s.deletePrefix(prefixBatch + sessionID.String() + "/"); err != nil {
		return fmt.Errorf("rewind/badger: delete batch claims: %w", err)
	}
	return nil
}

// ClaimBatch records a batch id. Badger transactions are serializable, so
// two concurrent claims of the same id cannot both succeed.
func (s *Store) ClaimBatch(_ context.Context, sessionID, batchID id.ID) (bool, error) {
	claimed := false
	err := s.update(func(txn *badgerdb.Txn) error {
		ok, err := exists(txn, batchKey(sessionID, batchID))
		if err != nil || ok {
			return err
		}
		claimed = true
		return txn.Set([]byte(batchKey(sessionID, batchID)), nil)
	})
	if err != nil {
		return false, fmt.Errorf("rewind/badger: claim batch: %w", err)
	}
	return claimed, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func eventPrefix(sessionID id.ID) string { return prefixEvent + sessionID.String() + "/" }

func eventKey(sessionID id.ID, seq int64) string {
	return fmt.Sprintf("%s%020d", eventPrefix(sessionID), seq)
}

// AppendEvents stores events in their wire form, keyed by sequence.
func (s *Store) AppendEvents(_ context.Context, sessionID id.ID, events []*event.Event) error {
	return s.update(func(txn *badgerdb.Txn) error {
		for _, e := range events {
			c := e.Clone()
			c.SessionID = sessionID
			data, err := event.Encode(c)
			if err != nil {
				return fmt.Errorf("rewind/badger: encode event %d: %w", e.Seq, err)
			}
			if err := txn.Set([]byte(eventKey(sessionID, e.Seq)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEvents returns a session's events in (timestamp, seq) order.
func (s *Store) ListEvents(_ context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var all []*event.Event
	err := s.view(func(txn *badgerdb.Txn) error {
		return scan(txn, eventPrefix(sessionID), func(_, val []byte) error {
			e, err := event.Decode(val)
			if err != nil {
				return err
			}
			all = append(all, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rewind/badger: list events: %w", err)
	}
	event.Sort(all)
	return event.Apply(all, opts), nil
}

// CountEvents returns the number of stored events for a session.
func (s *Store) CountEvents(_ context.Context, sessionID id.ID) (int64, error) {
	var n int64
	err := s.view(func(txn *badgerdb.Txn) error {
		n = int64(len(keys(txn, eventPrefix(sessionID))))
		return nil
	})
	return n, err
}

// DeleteEvents removes every event of a session.
func (s *Store) DeleteEvents(_ context.Context, sessionID id.ID) error {
	if _, err := s.deletePrefix(eventPrefix(sessionID)); err != nil {
		return fmt.Errorf("rewind/badger: delete events: %w", err)
	}
	return nil
}
