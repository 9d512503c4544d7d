package hwinfo

import "errors"

// Error taxonomy shared by the extraction and table-synthesis stages. Every
// failure wraps exactly one of these sentinels so callers can branch with
// errors.Is without parsing messages.
var (
	// ErrInvalidInput marks a malformed or missing mandatory property.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an absent node or object list. Callers that treat
	// the subsystem as optional tolerate it; everyone else propagates.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported marks a node of an unrecognized compatible kind where
	// a recognized one was required.
	ErrUnsupported = errors.New("unsupported")

	// ErrResourceExhausted marks an allocation failure.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrOverflow marks a node or table size exceeding its field width.
	ErrOverflow = errors.New("overflow")
)
