// Package broadcast carries payloads between chat tabs that share a named
// channel. A post reaches every other channel opened on the same name and is
// never echoed back to the poster.
package broadcast

import "errors"

// ErrClosed is returned when posting on a closed channel.
var ErrClosed = errors.New("broadcast channel closed")

// Medium opens named channels.
type Medium interface {
	Open(name string) (Channel, error)
}

// Channel is one tab's subscription to a named channel.
type Channel interface {
	// Post delivers data to the other subscribers of the channel.
	Post(data []byte) error
	// Subscribe sets the handler for payloads from other subscribers.
	Subscribe(handler func(data []byte))
	// Close stops delivery. It is safe to call more than once.
	Close() error
}
