package signature

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrMissing  = errors.New("signature: missing signature or timestamp")
	ErrMismatch = errors.New("signature: mismatch")
	ErrExpired  = errors.New("signature: timestamp outside tolerance")
)

// Verifier checks signed uploads and rejects stale timestamps.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier accepting timestamps within tolerance of
// the current time. Zero disables the freshness check.
func NewVerifier(tolerance time.Duration) *Verifier {
	return &Verifier{tolerance: tolerance, now: time.Now}
}

// WithClock returns a copy of v reading time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

// Check validates the timestamp and signature headers of an upload.
func (v *Verifier) Check(payload []byte, key, timestamp, sig string) error {
	if timestamp == "" || sig == "" {
		return ErrMissing
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMissing
	}
	if v.tolerance > 0 {
		skew := v.now().Sub(time.Unix(ts, 0))
		if skew < -v.tolerance || skew > v.tolerance {
			return ErrExpired
		}
	}
	if !Verify(payload, key, ts, sig) {
		return ErrMismatch
	}
	return nil
}
