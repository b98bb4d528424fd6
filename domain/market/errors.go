package market

import "github.com/cockroachdb/errors"

// Error classes. Concrete errors are marked with one of these and
// callers branch with errors.Is.
var (
	// ErrValidation rejects malformed input before any state changes.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers unknown ids on cancel and status queries.
	ErrNotFound = errors.New("not found")
	// ErrInternal flags data-integrity risk: book invariant violations,
	// halted books, lost settlement hand-offs.
	ErrInternal = errors.New("internal fault")
)

var (
	ErrOrderNotCancelable = errors.Mark(
		errors.New("order not found or not cancelable"), ErrNotFound)
	ErrOrderNotFound = errors.Mark(errors.New("order not found"), ErrNotFound)
)

// Invalid builds a validation-class error.
func Invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}
