package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/signature"
)

// Header names sent with every upload.
const (
	HeaderKey       = "X-Rewind-Key"
	HeaderSignature = "X-Rewind-Signature"
	HeaderTimestamp = "X-Rewind-Timestamp"
	HeaderBatchID   = "X-Rewind-Batch-ID"
	HeaderSessionID = "X-Rewind-Session-ID"
)

const maxResponseBody = 1024

// Sender uploads one batch and reports the outcome.
type Sender interface {
	Send(ctx context.Context, b *event.Batch) Result
}

// errServerStatus marks 5xx responses as breaker failures.
var errServerStatus = errors.New("server error")

// HTTPSender posts batches to an ingestion endpoint through a circuit
// breaker, so a failing server is not hammered by every open tab.
type HTTPSender struct {
	url     string
	key     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	now     func() time.Time
}

// HTTPOption configures an HTTPSender.
type HTTPOption func(*HTTPSender)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSender) { s.client = c }
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) HTTPOption {
	return func(s *HTTPSender) { s.breaker = newBreaker(failures, openFor) }
}

// NewHTTPSender creates a sender for the ingestion URL authenticated with
// the project ingest key.
func NewHTTPSender(url, key string, opts ...HTTPOption) *HTTPSender {
	s := &HTTPSender{
		url:     url,
		key:     key,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: newBreaker(5, 30*time.Second),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBreaker(failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker[int] {
	return gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "rewind-ingest",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// BreakerState returns the breaker state name.
func (s *HTTPSender) BreakerState() string {
	return s.breaker.State().String()
}

// Send uploads b and returns the result.
func (s *HTTPSender) Send(ctx context.Context, b *event.Batch) Result {
	body, err := event.EncodeBatch(b)
	if err != nil {
		// Status 400 so the retrier drops a batch that cannot be encoded.
		return Result{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("encode batch: %w", err)}
	}

	start := time.Now()
	code, err := s.breaker.Execute(func() (int, error) {
		return s.post(ctx, b, body)
	})
	latency := time.Since(start).Milliseconds()

	if errors.Is(err, errServerStatus) {
		return Result{StatusCode: code, Err: errStatus(code), LatencyMs: latency}
	}
	if err != nil {
		return Result{Err: err, LatencyMs: latency}
	}
	res := Result{StatusCode: code, LatencyMs: latency}
	if code < 200 || code >= 300 {
		res.Err = errStatus(code)
	}
	return res
}

func (s *HTTPSender) post(ctx context.Context, b *event.Batch, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Rewind/1.0")
	req.Header.Set(HeaderKey, s.key)
	req.Header.Set(HeaderBatchID, b.ID.String())
	req.Header.Set(HeaderSessionID, b.SessionID.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature.Sign(body, s.key, ts))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= 500 {
		return resp.StatusCode, errServerStatus
	}
	return resp.StatusCode, nil
}

// IngestFunc hands a batch to an in-process ingestion engine.
type IngestFunc func(ctx context.Context, b *event.Batch) error

// LocalSender delivers batches in-process, for servers that record their
// own sessions and for tests.
type LocalSender struct {
	ingest IngestFunc
	status func(error) int
}

// NewLocalSender wraps fn. status maps ingestion errors to HTTP-like
// status codes for the retrier; nil treats every error as retryable.
func NewLocalSender(fn IngestFunc, status func(error) int) *LocalSender {
	if status == nil {
		status = func(error) int { return http.StatusServiceUnavailable }
	}
	return &LocalSender{ingest: fn, status: status}
}

// Send calls the ingestion function.
func (s *LocalSender) Send(ctx context.Context, b *event.Batch) Result {
	start := time.Now()
	err := s.ingest(ctx, b)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{StatusCode: s.status(err), Err: err, LatencyMs: latency}
	}
	return Result{StatusCode: http.StatusAccepted, LatencyMs: latency}
}
