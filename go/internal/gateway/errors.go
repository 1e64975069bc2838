package gateway

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingEventName = errors.New("message has no event name")
)
