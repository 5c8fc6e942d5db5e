package coordinator

import (
	"errors"

	"github.com/noahxzhu/alarm-notify/internal/occurrence"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidTarget = errors.New("no target specified")
	ErrPastSchedule  = errors.New("scheduled time is not in the future")
	ErrNotFound      = errors.New("item not found")
	ErrKindMismatch  = errors.New("item kind mismatch")
	ErrInvalidState  = errors.New("operation not valid in current state")
	ErrPersistence   = errors.New("persistence error")
	ErrClosed        = errors.New("coordinator closed")

	ErrRepeatComputation = occurrence.ErrRepeatComputation
)

// errGone marks an identifier that pointed at an item deleted earlier.
var errGone = errors.New("item already deleted")
