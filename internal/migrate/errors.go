package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion means no upgrade path exists from the document's
	// declared version to the current one.
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	// ErrCorrupted means the document has a known shape but cannot be repaired
	// without inventing data.
	ErrCorrupted = errors.New("corrupted document")
)

// UnsupportedVersionError carries the version that could not be migrated.
type UnsupportedVersionError struct {
	Declared any
	Current  int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("schema version %v cannot be migrated to %d", e.Declared, e.Current)
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// CorruptedError explains why a document was rejected.
type CorruptedError struct {
	Reason string
	Err    error
}

func (e *CorruptedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupted document: %s: %v", e.Reason, e.Err)
	}
	return "corrupted document: " + e.Reason
}

func (e *CorruptedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorrupted, e.Err}
	}
	return []error{ErrCorrupted}
}
