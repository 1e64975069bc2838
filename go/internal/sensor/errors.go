package sensor

import "errors"

var (
	ErrNoPorts     = errors.New("no serial ports found")
	ErrPortClosed  = errors.New("serial port closed")
	ErrBridgeState = errors.New("bridge already running")
)
