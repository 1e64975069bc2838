package store

import "errors"

// ErrUndecryptable is returned when a stored document fails authentication
var ErrUndecryptable = errors.New("document cannot be decrypted")
