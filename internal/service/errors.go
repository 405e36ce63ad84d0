package service

import "errors"

// ErrNotFound indicates a referenced entity is absent. Check with
// errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError indicates a business-rule violation, e.g. redeeming a
// coupon with insufficient bolts. Check with errors.As.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// validationErr builds a ValidationError with the given reason.
func validationErr(reason string) error {
	return &ValidationError{Reason: reason}
}
