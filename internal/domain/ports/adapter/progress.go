package adapter

import "context"

// ProgressFrame is one raw message from a push channel. Event is the named
// event type ("" or "message" for unnamed frames).
type ProgressFrame struct {
	Event string
	Data  string
}

// Subscription is an open push channel for one job. Frames is closed when
// the channel ends; Err then reports why (nil on a clean end of stream).
type Subscription interface {
	Frames() <-chan ProgressFrame
	Err() error
	// Close releases the channel. It is safe to call more than once and
	// returns once the reader has stopped.
	Close() error
}

// ProgressSource opens push channels.
type ProgressSource interface {
	Subscribe(ctx context.Context, url string) (Subscription, error)
}
