package graph

import "errors"

// Sentinel errors for graph operations. Callers match them with errors.Is;
// the returned errors wrap them with the offending identifier.
var (
	// ErrNotFound is returned when a referenced twin, edge, file or snapshot
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for input that violates an operation's
	// precondition, such as a negative hop count.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateDTMI is returned by stores when a twin with the same DTMI
	// already exists.
	ErrDuplicateDTMI = errors.New("duplicate dtmi")
)
