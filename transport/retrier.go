package transport

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Decision is the outcome of evaluating an upload attempt.
type Decision int

const (
	// Delivered means the server accepted the batch.
	Delivered Decision = iota

	// Retry means the upload should be attempted again after a backoff.
	Retry

	// Drop means the batch will never be accepted and must be discarded.
	Drop
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Retry:
		return "retry"
	default:
		return "drop"
	}
}

// Result holds the outcome of a single upload attempt.
type Result struct {
	StatusCode int
	Err        error
	LatencyMs  int64
}

// Retrier decides what to do after an upload attempt and supplies the
// backoff between attempts.
type Retrier struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

// NewRetrier creates a retrier allowing maxAttempts attempts per batch.
func NewRetrier(maxAttempts int, initial, maxBackoff time.Duration) *Retrier {
	return &Retrier{maxAttempts: max(1, maxAttempts), initial: initial, max: maxBackoff}
}

// MaxAttempts returns the attempt budget per batch.
func (r *Retrier) MaxAttempts() int { return r.maxAttempts }

// Decide determines what to do with a batch after attempt number attempt.
//
// Decision matrix:
//   - 2xx, 409 → Delivered (409 means the batch id was already ingested)
//   - 408, 429 → Retry while attempts remain
//   - other 4xx → Drop (the payload will not become acceptable)
//   - 5xx and 0 (network error) → Retry while attempts remain
func (r *Retrier) Decide(res Result, attempt int) Decision {
	code := res.StatusCode

	if (code >= 200 && code < 300) || code == 409 {
		return Delivered
	}
	if code == 408 || code == 429 {
		return r.retryOrDrop(attempt)
	}
	if code >= 400 && code < 500 {
		return Drop
	}
	return r.retryOrDrop(attempt)
}

func (r *Retrier) retryOrDrop(attempt int) Decision {
	if attempt < r.maxAttempts {
		return Retry
	}
	return Drop
}

// BackOff returns a fresh exponential backoff for one batch.
func (r *Retrier) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		b.InitialInterval = r.initial
	}
	if r.max > 0 {
		b.MaxInterval = r.max
	}
	b.Reset()
	return b
}
