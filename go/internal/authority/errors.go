package authority

import "errors"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingPlayer    = errors.New("player index is required")
	ErrInvalidPlayer    = errors.New("invalid player index")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrNotObject        = errors.New("state update must be an object")
	ErrStopped          = errors.New("authority stopped")
)
