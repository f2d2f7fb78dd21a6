package mesh

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrConflictingID    = errors.New("conflicting landmark id")
	ErrNotLinkable      = errors.New("landmarks not linkable")
	ErrTopologyMismatch = errors.New("topology mismatch")
	ErrMissingTarget    = errors.New("missing target mesh")
	ErrNoSolution       = errors.New("no solution")
	ErrFormat           = errors.New("invalid mapping format")
	ErrMeshBusy         = errors.New("mesh already in edit session")
	ErrInvalidFace      = errors.New("invalid face")
	ErrUnknownSeed      = errors.New("unknown geodesic seed")
)

// Error carries one of the kinds above plus the ids, names and counts
// needed to report which precondition failed.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
