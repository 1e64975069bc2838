package export

import "errors"

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrEmptyRange  = errors.New("range end must be after start")
)
