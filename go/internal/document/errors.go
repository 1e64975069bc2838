package document

import "errors"

// ErrEmptyPath is returned when a path operation is given no path
var ErrEmptyPath = errors.New("empty path")

// ErrInvalidPath is returned for a path with an empty component
var ErrInvalidPath = errors.New("invalid path")
