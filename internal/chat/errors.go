package chat

import "errors"

var (
	ErrNotReady         = errors.New("chat: connection not ready")
	ErrAnonymous        = errors.New("chat: anonymous connections cannot do this")
	ErrPermissionDenied = errors.New("chat: permission denied")
	ErrAlreadyJoined    = errors.New("chat: room already joined")
	ErrUnknownRoom      = errors.New("chat: room not joined")
	ErrNoActivePoll     = errors.New("chat: no active poll")
	ErrInvalidAnswer    = errors.New("chat: answer index out of range")
	ErrRateLimited      = errors.New("chat: rate limited")
	ErrEmptyMessage     = errors.New("chat: empty message")
	ErrPollMismatch     = errors.New("chat: poll does not match the active poll")
	ErrPollRunning      = errors.New("chat: a poll is already running")
	ErrSuperseded       = errors.New("chat: join superseded by an authenticated join")
)
