package storage

import (
	"errors"
	"fmt"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
)

// ErrNotFound is returned when the requested aggregate does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a conditional write finds a version other than the expected one.
var ErrVersionConflict = errors.New("version conflict")

// ErrAlreadyExists is returned when creating an aggregate whose id is taken.
var ErrAlreadyExists = errors.New("already exists")

// DomainError maps the storage sentinels in err onto domain error codes. what
// names the aggregate for the message. Other errors are wrapped unchanged.
func DomainError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, what+" not found", err)
	case errors.Is(err, ErrVersionConflict):
		return apperrors.Wrap(apperrors.CodeConflict, what+" was modified concurrently", err)
	case errors.Is(err, ErrAlreadyExists):
		return apperrors.Wrap(apperrors.CodeConflict, what+" already exists", err)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return fmt.Errorf("failed to access %s: %w", what, err)
}
