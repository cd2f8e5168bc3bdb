package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Domain errors. Callers match them with errors.Is; anything else is an infrastructure failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionError reports a state machine violation and the status that caused it.
type TransitionError struct {
	Action string
	Status model.Status
}

func (e *TransitionError) Error() string {
	if e.Action == actionCancel && e.Status == model.StatusCancelled {
		return "appointment is already cancelled"
	}
	return fmt.Sprintf("cannot %s an appointment with status %s", e.Action, e.Status)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// validationError flattens a joined validation error into one line.
func validationError(err error) error {
	return invalidInput("%s", strings.ReplaceAll(err.Error(), "\n", "; "))
}
