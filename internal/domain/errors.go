package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomClosed        = errors.New("room is closing")
	ErrNotInRoom         = errors.New("user not in the room")
	ErrNotClinician      = errors.New("operation requires clinician presence")
	ErrAdmissionRequired = errors.New("admission to the room required")
	ErrNotQueued         = errors.New("user not in the waiting room")
	ErrClinicianQueued   = errors.New("clinician cannot enter the waiting room")
	ErrUnknownChannel    = errors.New("unknown log channel")
	ErrEntryNotFound     = errors.New("log entry not found")
	ErrDeleteForbidden   = errors.New("only the author or a clinician may delete")
	ErrSessionClosed     = errors.New("session already unsubscribed")
)

// InvalidTransitionError rejects a recording operation requested from a state
// it is not valid in. The current state rides along so the caller can
// reconcile its view instead of guessing.
type InvalidTransitionError struct {
	Op    string
	State RecordingState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("recording %s not allowed in state %q", e.Op, e.State)
}
