package domain

import "errors"

// Domain errors
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrNotYetLoaded     = errors.New("standings not yet loaded")
	ErrDataUnavailable  = errors.New("upstream completion data unavailable")
	ErrPermissionDenied = errors.New("admin privilege required")
	ErrAlreadyEnrolled  = errors.New("member already enrolled")
	ErrNotEnrolled      = errors.New("member not enrolled")
	ErrNotEligible      = errors.New("member not eligible for this room")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsConflictError checks if an error is a roster mutation conflict
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled) || errors.Is(err, ErrNotEnrolled)
}
