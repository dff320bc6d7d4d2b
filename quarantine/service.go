// Package quarantine keeps events rejected at ingestion: schema failures
// found while decoding a batch and custom events refused by the catalog.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// ErrReplayed is returned when replaying an entry that was already
// replayed.
var ErrReplayed = errors.New("rewind: quarantine entry already replayed")

// Reingester accepts a decoded quarantined event back into its session.
type Reingester func(ctx context.Context, entry *Entry, e *event.Event) error

// Origin identifies where rejected events came from.
type Origin struct {
	ProjectID id.ID
	SessionID id.ID
	BatchID   id.ID
}

// Service manages quarantined events.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a quarantine service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PushSchemaErrors quarantines events the codec could not accept.
func (svc *Service) PushSchemaErrors(ctx context.Context, origin Origin, errs []*event.SchemaError) (int, error) {
	if len(errs) == 0 {
		return 0, nil
	}
	now := svc.now()
	entries := make([]*Entry, 0, len(errs))
	for _, serr := range errs {
		entries = append(entries, svc.entry(origin, serr.Index, serr.Type, ReasonSchema, serr.Error(), serr.Raw, now))
	}
	if err := svc.store.PushQuarantine(ctx, entries...); err != nil {
		return 0, fmt.Errorf("quarantine: push: %w", err)
	}
	svc.logger.WarnContext(ctx, "events quarantined",
		"session_id", origin.SessionID, "batch_id", origin.BatchID, "count", len(entries), "kind", ReasonSchema)
	return len(entries), nil
}

// PushRejected quarantines a decoded event refused after decoding, such as
// a custom event whose definition is deprecated.
func (svc *Service) PushRejected(ctx context.Context, origin Origin, index int, e *event.Event, kind string, cause error) error {
	raw, err := event.Encode(e)
	if err != nil {
		return fmt.Errorf("quarantine: encode rejected event: %w", err)
	}
	entry := svc.entry(origin, index, e.Type, kind, cause.Error(), raw, svc.now())
	if err := svc.store.PushQuarantine(ctx, entry); err != nil {
		return fmt.Errorf("quarantine: push: %w", err)
	}
	svc.logger.WarnContext(ctx, "event quarantined",
		"session_id", origin.SessionID, "batch_id", origin.BatchID, "index", index, "kind", kind, "reason", cause)
	return nil
}

func (svc *Service) entry(origin Origin, index int, code event.Type, kind, reason string, raw []byte, at time.Time) *Entry {
	return &Entry{
		Entity:    entity.New(),
		ID:        id.NewQuarantineID(),
		ProjectID: origin.ProjectID,
		SessionID: origin.SessionID,
		BatchID:   origin.BatchID,
		Index:     index,
		Code:      code,
		Kind:      kind,
		Reason:    reason,
		Raw:       raw,
		FailedAt:  at,
	}
}

// List returns entries matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListQuarantine(ctx, opts)
}

// Get returns an entry by id.
func (svc *Service) Get(ctx context.Context, entryID id.ID) (*Entry, error) {
	return svc.store.GetQuarantine(ctx, entryID)
}

// Count returns the number of entries matching opts.
func (svc *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	return svc.store.CountQuarantine(ctx, opts)
}

// Purge removes entries that failed before the threshold.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeQuarantine(ctx, before)
}

// Replay decodes an entry again and hands it to fn. The entry is marked
// replayed only when fn succeeds; an entry that still fails to decode
// stays quarantined.
func (svc *Service) Replay(ctx context.Context, entryID id.ID, fn Reingester) error {
	entry, err := svc.store.GetQuarantine(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.ReplayedAt != nil {
		return ErrReplayed
	}

	e, err := event.Decode(entry.Raw)
	if err != nil {
		return fmt.Errorf("quarantine: replay %s: %w", entryID, err)
	}
	e.SessionID = entry.SessionID
	if err := fn(ctx, entry, e); err != nil {
		return err
	}
	if err := svc.store.MarkReplayed(ctx, entryID, svc.now()); err != nil {
		return fmt.Errorf("quarantine: mark replayed: %w", err)
	}
	svc.logger.InfoContext(ctx, "quarantined event replayed", "entry_id", entryID, "session_id", entry.SessionID)
	return nil
}
