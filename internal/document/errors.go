package document

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by store operations called before Init
	ErrNotInitialized = errors.New("store not initialized")

	// ErrStorage wraps every underlying read, write or serialization failure
	ErrStorage = errors.New("storage failure")

	// ErrInvalidDocument is returned when a record fails validation
	ErrInvalidDocument = errors.New("invalid record")

	// ErrUnknownDocument is returned when a summary references a missing document
	ErrUnknownDocument = errors.New("unknown document")

	// ErrAnalysis wraps failures of the text extraction or analysis stages
	ErrAnalysis = errors.New("analysis failed")
)

// storeError tags err with the operation, classifying anything that is not
// already a known store error as ErrStorage
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrUnknownDocument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
}
