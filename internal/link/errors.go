package link

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrNotConnected = errors.New("link: not connected")
	ErrTxOverflow   = errors.New("link: tx overflow")
	ErrPingTimeout  = errors.New("link: ping timed out")
	ErrClosed       = errors.New("link: closed")
)
