package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is reported when a host callback references a node the
	// recorder never serialized, usually one detached before capture.
	ErrUnknownNode = errors.New("recorder: unknown node")

	// ErrNotStarted is reported for mutations observed before Start.
	ErrNotStarted = errors.New("recorder: not started")

	// ErrPanic wraps a panic recovered inside a capture entrypoint.
	ErrPanic = errors.New("recorder: panic during capture")
)

// CaptureError describes a callback the recorder could not turn into an
// event. The offending input is dropped; capture continues.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("recorder: %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
