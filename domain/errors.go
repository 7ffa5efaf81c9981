package domain

import "errors"

// ValidationError rejects a draft before any write is attempted. Callers
// can distinguish it from storage failures with errors.As.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// ErrEmptyTitle is returned by Upsert for drafts whose title is empty after
// trimming.
var ErrEmptyTitle = &ValidationError{Field: "title", Reason: "cannot be empty"}

// IsValidation reports whether err is a draft validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
