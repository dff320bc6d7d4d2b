// Package transport moves captured events from a recorder to the
// ingestion boundary: it groups them into batches, uploads them with
// retries and backoff, and spools what cannot be sent on unload.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// Config holds batcher configuration.
type Config struct {
	// MaxBatchSize is the number of events that triggers a batch cut.
	MaxBatchSize int

	// FlushInterval cuts a batch from whatever is buffered.
	FlushInterval time.Duration

	// MaxAttempts bounds upload attempts per batch.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// QueueSize bounds cut batches waiting for upload. A cut that finds the
	// queue full drops its batch.
	QueueSize int

	// Spool receives batches that failed their final attempt. Optional.
	Spool Spool
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   50,
		FlushInterval:  5 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		QueueSize:      64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Stats counts batcher activity.
type Stats struct {
	Enqueued  int64
	Batches   int64
	Delivered int64
	Retries   int64
	Dropped   int64
	Spooled   int64
	Buffered  int
	Queued    int
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets the batcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

// Batcher buffers events for one session and uploads them in batches.
// Batches are uploaded one at a time in cut order: a batch leaves the queue
// only under sendMu, and is held there until its upload settles.
type Batcher struct {
	sessionID id.ID
	sender    Sender
	retrier   *Retrier
	config    Config
	logger    *slog.Logger

	mu     sync.Mutex
	buf    []*event.Event
	queue  chan *event.Batch
	ready  chan struct{}
	closed bool

	sendMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	enqueued  atomic.Int64
	batches   atomic.Int64
	delivered atomic.Int64
	retries   atomic.Int64
	dropped   atomic.Int64
	spooled   atomic.Int64
}

// NewBatcher creates a batcher for sessionID uploading through sender.
func NewBatcher(sessionID id.ID, sender Sender, cfg Config, opts ...Option) *Batcher {
	cfg = cfg.withDefaults()
	b := &Batcher{
		sessionID: sessionID,
		sender:    sender,
		retrier:   NewRetrier(cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff),
		config:    cfg,
		queue:     make(chan *event.Batch, cfg.QueueSize),
		ready:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Enqueue buffers e, cutting a batch when the buffer is full. Events for
// other sessions are restamped with the batcher's session.
func (b *Batcher) Enqueue(e *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	if e.SessionID != b.sessionID {
		e = e.Clone()
		e.SessionID = b.sessionID
	}
	b.buf = append(b.buf, e)
	b.enqueued.Add(1)
	if len(b.buf) >= b.config.MaxBatchSize {
		b.cut(false)
	}
}

// cut moves the buffer into a batch on the queue. Callers hold b.mu.
func (b *Batcher) cut(final bool) {
	if len(b.buf) == 0 && !final {
		return
	}
	batch := &event.Batch{
		ID:        id.NewBatchID(),
		SessionID: b.sessionID,
		Final:     final,
		Events:    b.buf,
	}
	b.buf = nil
	b.batches.Add(1)

	select {
	case b.queue <- batch:
		select {
		case b.ready <- struct{}{}:
		default:
		}
	default:
		b.dropped.Add(1)
		b.logger.Warn("rewind: upload queue full, batch dropped",
			"session_id", b.sessionID, "batch_id", batch.ID, "events", len(batch.Events))
	}
}

// Start drains the spool, then uploads in the background: the buffer is
// cut every FlushInterval and queued batches are sent as they arrive.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	if b.config.Spool != nil {
		n, err := b.config.Spool.Drain(ctx, func(batch *event.Batch) error {
			b.sendMu.Lock()
			defer b.sendMu.Unlock()
			return b.send(ctx, batch)
		})
		if err != nil {
			b.logger.WarnContext(ctx, "rewind: spool drain stopped", "drained", n, "error", err)
		} else if n > 0 {
			b.logger.InfoContext(ctx, "rewind: spool drained", "batches", n)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx)
	}()
}

func (b *Batcher) loop(ctx context.Context) {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			b.cut(false)
			b.mu.Unlock()
		case <-b.ready:
			for ctx.Err() == nil {
				if ok, _ := b.next(ctx, b.send); !ok {
					break
				}
			}
		}
	}
}

// drain uploads queued batches with upload until the queue is empty and
// returns the upload errors in order.
func (b *Batcher) drain(ctx context.Context, upload func(context.Context, *event.Batch) error) []error {
	var errs []error
	for {
		ok, err := b.next(ctx, upload)
		if !ok {
			return errs
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
}

// next takes one batch off the queue and uploads it, both under sendMu.
// ok is false when the queue was empty.
func (b *Batcher) next(ctx context.Context, upload func(context.Context, *event.Batch) error) (ok bool, err error) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	var batch *event.Batch
	select {
	case batch = <-b.queue:
	default:
		return false, nil
	}
	if err := upload(ctx, batch); err != nil {
		b.failed(ctx, batch, err)
		return true, err
	}
	return true, nil
}

// Flush cuts the buffer and uploads every queued batch before returning.
// The first failure is returned; later batches are still attempted.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.cut(false)
	b.mu.Unlock()

	if errs := b.drain(ctx, b.send); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Close stops background work and makes one synchronous attempt at every
// remaining batch, the last one marked Final. Batches that fail go to the
// spool when one is configured.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	b.cut(true)
	b.mu.Unlock()

	return errors.Join(b.drain(ctx, b.attempt)...)
}

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	buffered := len(b.buf)
	b.mu.Unlock()
	return Stats{
		Enqueued:  b.enqueued.Load(),
		Batches:   b.batches.Load(),
		Delivered: b.delivered.Load(),
		Retries:   b.retries.Load(),
		Dropped:   b.dropped.Load(),
		Spooled:   b.spooled.Load(),
		Buffered:  buffered,
		Queued:    len(b.queue),
	}
}

// send uploads batch with retries. Callers hold sendMu.
func (b *Batcher) send(ctx context.Context, batch *event.Batch) error {
	attempt := 0
	var last Result
	op := func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			b.retries.Add(1)
		}
		last = b.sender.Send(ctx, batch)
		switch b.retrier.Decide(last, attempt) {
		case Delivered:
			return struct{}{}, nil
		case Drop:
			return struct{}{}, backoff.Permanent(resultErr(last))
		default:
			return struct{}{}, resultErr(last)
		}
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b.retrier.BackOff()),
		backoff.WithMaxTries(uint(b.retrier.MaxAttempts())),
	)
	if err != nil {
		return &TransportError{BatchID: batch.ID, Attempts: attempt, StatusCode: last.StatusCode, Err: err}
	}
	b.delivered.Add(1)
	return nil
}

// attempt makes a single upload attempt. Callers hold sendMu.
func (b *Batcher) attempt(ctx context.Context, batch *event.Batch) error {
	res := b.sender.Send(ctx, batch)
	if b.retrier.Decide(res, b.retrier.MaxAttempts()) == Delivered {
		b.delivered.Add(1)
		return nil
	}
	return &TransportError{BatchID: batch.ID, Attempts: 1, StatusCode: res.StatusCode, Err: resultErr(res)}
}

// failed spools a batch that could still be accepted later, and drops
// the rest.
func (b *Batcher) failed(ctx context.Context, batch *event.Batch, err error) {
	var te *TransportError
	permanent := errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 &&
		te.StatusCode != 408 && te.StatusCode != 429
	if b.config.Spool != nil && !permanent {
		spoolErr := b.config.Spool.Put(ctx, batch)
		if spoolErr == nil {
			b.spooled.Add(1)
			b.logger.WarnContext(ctx, "rewind: batch spooled", "batch_id", batch.ID, "error", err)
			return
		}
		b.logger.ErrorContext(ctx, "rewind: spool batch failed", "batch_id", batch.ID, "error", spoolErr)
	}
	b.dropped.Add(1)
	b.logger.WarnContext(ctx, "rewind: batch dropped", "batch_id", batch.ID, "error", err)
}

func resultErr(r Result) error {
	if r.Err != nil {
		return r.Err
	}
	return errStatus(r.StatusCode)
}
