package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyExtractionResult is returned when the extraction service produced no text
	ErrEmptyExtractionResult = errors.New("extraction service returned an empty result")

	// ErrMalformedPayload is returned when the response text is not the expected JSON shape
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingRequiredField is returned when external_id, title or source_url is absent
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrUpsertFailure is returned when the job offer upsert yields no row
	ErrUpsertFailure = errors.New("job offer upsert returned no row")

	// ErrPersistence matches every PersistenceError through errors.Is
	ErrPersistence = errors.New("persistence error")
)

// MissingFieldError names the required field that was absent
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField.Error(), e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingRequiredField
}

// PersistenceError wraps a storage failure together with the operation that failed
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// NewPersistenceError wraps err unless it is nil or already a PersistenceError
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
