package dom

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned when a mutation references a node id that
	// is not present in the tree.
	ErrUnknownNode = errors.New("dom: unknown node")

	// ErrDuplicateNode is returned when an inserted subtree reuses a live id.
	ErrDuplicateNode = errors.New("dom: duplicate node id")

	// ErrInvalidMutation is returned for structurally malformed mutations.
	ErrInvalidMutation = errors.New("dom: invalid mutation")
)

func unknownNode(id int64) error {
	return fmt.Errorf("%w: %d", ErrUnknownNode, id)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMutation, fmt.Sprintf(format, args...))
}

func fmtErr(base error, id int64) error {
	return fmt.Errorf("%w: %d", base, id)
}
