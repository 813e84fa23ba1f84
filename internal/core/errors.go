package core

import (
	"context"
	"errors"
)

var (
	ErrNotAMember      = errors.New("not a member")
	ErrNotFound        = errors.New("not found")
	ErrNotOwner        = errors.New("not owner")
	ErrCannotConsume   = errors.New("cannot consume")
	ErrEngineFailure   = errors.New("engine failure")
	ErrTimeout         = errors.New("timeout")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("rate limited")

	// ErrRoomClosed is returned by Room.Do once the room was torn down.
	ErrRoomClosed = errors.New("room closed")
)

// ErrorCode maps err to the code sent to the requester.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAMember), errors.Is(err, ErrRoomClosed):
		return "not_a_member"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrCannotConsume):
		return "cannot_consume"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEngineFailure):
		return "engine_failure"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
