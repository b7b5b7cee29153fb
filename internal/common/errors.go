package common

import "errors"

var (

	// repository and store specific errors
	ErrNotFound = errors.New("not found")

	// auth specific errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidOTP   = errors.New("invalid otp")

	// record specific errors
	ErrEmptyPayload  = errors.New("empty payload")
	ErrCorruptRecord = errors.New("corrupt record")

	// protocol specific errors
	ErrUnknownFrame = errors.New("unknown frame")
	ErrPayloadLimit = errors.New("payload too large")
)
