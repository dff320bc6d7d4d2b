package transport

import (
	"errors"
	"fmt"

	"github.com/xraph/rewind/id"
)

var (
	// ErrQueueFull is recorded when a batch is dropped because the upload
	// queue is at capacity.
	ErrQueueFull = errors.New("transport: queue full")

	// ErrClosed is returned by operations on a closed batcher.
	ErrClosed = errors.New("transport: batcher closed")
)

// TransportError reports a batch that could not be delivered.
type TransportError struct {
	BatchID    id.ID
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: batch %s failed after %d attempt(s): status %d: %v", e.BatchID, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: batch %s failed after %d attempt(s): %v", e.BatchID, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errStatus describes a non-success status without a transport error.
func errStatus(code int) error {
	return fmt.Errorf("unexpected status %d", code)
}
