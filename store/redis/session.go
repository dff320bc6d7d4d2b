package redis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
)

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if err := s.setEntity(ctx, entityKey(prefixSession, sess.ID.String()), sess); err != nil {
		return fmt.Errorf("rewind/redis: create session: %w", err)
	}
	return s.indexSession(ctx, sess)
}

func (s *Store) indexSession(ctx context.Context, sess *session.Session) error {
	sid := sess.ID.String()
	started := goredis.Z{Score: scoreFromTime(sess.StartedAt), Member: sid}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSessionAll, started)
	pipe.ZAdd(ctx, zSessionProject+sess.ProjectID.String(), started)
	if sess.Closed() {
		pipe.ZRem(ctx, zSessionOpen, sid)
	} else {
		pipe.ZAdd(ctx, zSessionOpen, goredis.Z{Score: scoreFromTime(sess.LastSeenAt), Member: sid})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: index session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	var sess session.Session
	if err := s.getEntity(ctx, entityKey(prefixSession, sessionID.String()), &sess); err != nil {
		if isNotFound(err) {
			return nil, rewind.ErrSessionNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get session: %w", err)
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	key := entityKey(prefixSession, sess.ID.String())
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rewind/redis: update session: %w", err)
	}
	if n == 0 {
		return rewind.ErrSessionNotFound
	}
	if err := s.setEntity(ctx, key, sess); err != nil {
		return fmt.Errorf("rewind/redis: update session: %w", err)
	}
	return s.indexSession(ctx, sess)
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	index := zSessionAll
	if !opts.ProjectID.IsNil() {
		index = zSessionProject + opts.ProjectID.String()
	}

	lo, hi := math.Inf(-1), math.Inf(1)
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}
	ids, err := s.zRangeByScoreIDs(ctx, index, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list sessions: %w", err)
	}

	all, err := loadAll[session.Session](ctx, s, prefixSession, ids)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list sessions: %w", err)
	}
	result := all[:0]
	for _, sess := range all {
		if opts.Match(sess) {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zSessionOpen, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + formatScore(scoreFromTime(before)),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list idle sessions: %w", err)
	}
	result, err := loadAll[session.Session](ctx, s, prefixSession, ids)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list idle sessions: %w", err)
	}
	return result, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID id.ID) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sid := sessionID.String()

	if err := s.kv.Delete(ctx, entityKey(prefixSession, sid)); err != nil {
		return fmt.Errorf("rewind/redis: delete session: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSessionAll, sid)
	pipe.ZRem(ctx, zSessionProject+sess.ProjectID.String(), sid)
	pipe.ZRem(ctx, zSessionOpen, sid)
	pipe.Del(ctx, sSessionBatches+sid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: delete session indexes: %w", err)
	}
	return nil
}

// ClaimBatch adds the batch id to the session's claimed set. SADD reports
// zero for a member that was already present.
func (s *Store) ClaimBatch(ctx context.Context, sessionID, batchID id.ID) (bool, error) {
	added, err := s.rdb.SAdd(ctx, sSessionBatches+sessionID.String(), batchID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("rewind/redis: claim batch: %w", err)
	}
	return added == 1, nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvents(ctx context.Context, sessionID id.ID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	fields := make([]any, 0, 2*len(events))
	for _, e := range events {
		c := e.Clone()
		c.SessionID = sessionID
		raw, err := event.Encode(c)
		if err != nil {
			return fmt.Errorf("rewind/redis: append events: %w", err)
		}
		fields = append(fields, strconv.FormatInt(c.Seq, 10), raw)
	}
	if err := s.rdb.HSet(ctx, hEvents+sessionID.String(), fields...).Err(); err != nil {
		return fmt.Errorf("rewind/redis: append events: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	vals, err := s.rdb.HVals(ctx, hEvents+sessionID.String()).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rewind/redis: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(vals))
	for _, v := range vals {
		e, err := event.Decode([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("rewind/redis: list events: %w", err)
		}
		events = append(events, e)
	}
	event.Sort(events)
	return event.Apply(events, opts), nil
}

func (s *Store) CountEvents(ctx context.Context, sessionID id.ID) (int64, error) {
	n, err := s.rdb.HLen(ctx, hEvents+sessionID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("rewind/redis: count events: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteEvents(ctx context.Context, sessionID id.ID) error {
	if err := s.rdb.Del(ctx, hEvents+sessionID.String()).Err(); err != nil {
		return fmt.Errorf("rewind/redis: delete events: %w", err)
	}
	return nil
}
