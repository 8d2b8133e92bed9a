package lifecycle

import (
	"errors"
	"fmt"

	"agency-ops/internal/models"
)

var (
	// ErrNotFound covers both a missing job and a job the caller does not own or is not assigned to.
	ErrNotFound           = errors.New("job not found")
	ErrAlreadyInStatus    = errors.New("job already in requested status")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrPreconditionFailed = errors.New("operation precondition not met")
	ErrStorage            = errors.New("storage failure")
)

// TransitionError is a rejected transition. Message is safe to show to callers.
type TransitionError struct {
	Kind    error
	From    models.Status
	To      models.Status
	Message string
}

func (e *TransitionError) Error() string { return e.Message }

func (e *TransitionError) Unwrap() error { return e.Kind }

func alreadyIn(s models.Status) error {
	return &TransitionError{
		Kind:    ErrAlreadyInStatus,
		From:    s,
		To:      s,
		Message: fmt.Sprintf("Job is already in status %s", s),
	}
}

func illegal(from, to models.Status) error {
	return &TransitionError{
		Kind:    ErrIllegalTransition,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("Cannot transition from %s to %s", from, to),
	}
}

func precondition(action string, current models.Status, to models.Status, expected ...models.Status) error {
	want := ""
	for i, s := range expected {
		switch {
		case i == 0:
			want = string(s)
		case i == len(expected)-1:
			want += " or " + string(s)
		default:
			want += ", " + string(s)
		}
	}
	return &TransitionError{
		Kind:    ErrPreconditionFailed,
		From:    current,
		To:      to,
		Message: fmt.Sprintf("Cannot %s: job status is %s, expected %s", action, current, want),
	}
}

// storageErr marks err as an unexpected persistence failure unless it already
// belongs to the expected taxonomy.
func storageErr(op string, err error) error {
	if err == nil || IsUserError(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsUserError reports whether err is an expected, caller-facing outcome
// (not found, no-op, illegal transition or failed precondition).
func IsUserError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyInStatus) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrPreconditionFailed)
}
