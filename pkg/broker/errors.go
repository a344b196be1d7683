package broker

import "errors"

var (
	// ErrChannelClosed is returned when the channel or its connection was lost.
	// It is transient: opening a new channel may succeed.
	ErrChannelClosed = errors.New("broker channel closed")

	// ErrNotFound is returned when an exchange or queue does not exist.
	ErrNotFound = errors.New("broker resource not found")
)

// IsTransient reports whether err is a channel-level failure that a reconnect
// can recover from.
func IsTransient(err error) bool {
	return errors.Is(err, ErrChannelClosed)
}
