package transport

import "errors"

// ErrInvalidMessage tags bytes that failed to parse as a DNS message.
// No reply is sent on UDP; the originating connection is dropped on TCP.
var ErrInvalidMessage = errors.New("transport: invalid DNS message")

// ErrBindTimeout tags a listen/bind failure that persisted past the
// bounded retry window (5s sleep, 60s total timeout).
var ErrBindTimeout = errors.New("transport: bind timed out waiting for address to become available")
