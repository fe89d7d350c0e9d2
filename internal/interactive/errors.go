package interactive

import "errors"

var (
	ErrGroupExists        = errors.New("interactive: group already exists")
	ErrUnknownGroup       = errors.New("interactive: unknown group")
	ErrUnknownScene       = errors.New("interactive: unknown scene")
	ErrUnknownParticipant = errors.New("interactive: unknown participant")
	ErrUnknownControl     = errors.New("interactive: unknown control")
	ErrNotSupported       = errors.New("interactive: not supported without per-participant state")
	ErrNotLoggedIn        = errors.New("interactive: not logged in")
	ErrWrongState         = errors.New("interactive: operation not valid in the current state")
	ErrConnectionLost     = errors.New("interactive: connection lost")
)
