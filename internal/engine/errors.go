package engine

import (
	"errors"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/migrate"
	"github.com/tatianab/chronicle/internal/store"
)

var (
	// ErrExtractionService means the structured call failed. The turn still
	// happens with zero deltas and its narrative is recorded.
	ErrExtractionService = errors.New("extraction service failure")
	// ErrTurnSuperseded means a newer action started, or the turn's context
	// was cancelled, before it could commit. Nothing from it was kept.
	ErrTurnSuperseded = errors.New("turn superseded")
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeUnsupportedVersion Code = "UNSUPPORTED_VERSION"
	CodeCorrupted          Code = "CORRUPTED"
	CodeDeltaRejected      Code = "DELTA_REJECTED"
	CodeExtractionService  Code = "EXTRACTION_SERVICE_FAILURE"
	CodeTurnSuperseded     Code = "TURN_SUPERSEDED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidSlot        Code = "INVALID_SLOT"
)

// CodeOf maps an error from any layer to its code. nil maps to "".
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, migrate.ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(err, migrate.ErrCorrupted):
		return CodeCorrupted
	case errors.Is(err, delta.ErrRejected):
		return CodeDeltaRejected
	case errors.Is(err, ErrExtractionService):
		return CodeExtractionService
	case errors.Is(err, ErrTurnSuperseded):
		return CodeTurnSuperseded
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrInvalidSlot):
		return CodeInvalidSlot
	}
	return CodeUnknown
}
