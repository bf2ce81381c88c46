package domain

import "errors"

var (
	ErrOutOfRange       = errors.New("checkbox index out of range")
	ErrStoreUnavailable = errors.New("checkbox store unavailable")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrChannelClosed    = errors.New("outbound channel closed")
	ErrClientSlow       = errors.New("outbound queue full")
)
