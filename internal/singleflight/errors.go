package singleflight

import "errors"

var (
	// ErrAlreadyRegistered is returned by Register when the key already has
	// an active call. It indicates a caller bug.
	ErrAlreadyRegistered = errors.New("singleflight: key already registered")

	// ErrAlreadyReleased is returned when a call is released more than once.
	ErrAlreadyReleased = errors.New("singleflight: call already released")
)
