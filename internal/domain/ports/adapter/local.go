package adapter

import (
	"context"
	"io"
)

// ActionFence extends submission dedup across processes.
type ActionFence interface {
	// Claim records token as the holder of key. It returns false when
	// another holder already owns the key.
	Claim(ctx context.Context, key, token string) (bool, error)
	// Release drops the claim only if token still holds it.
	Release(ctx context.Context, key, token string) error
}

// PreviewStore keeps local previews of upload items.
type PreviewStore interface {
	Create(name string, data []byte) (ref string, err error)
	Open(ref string) (io.ReadCloser, error)
	Release(ref string) error
}

// Task is a unit of background work.
type Task func(ctx context.Context) error

// TaskRunner runs background tasks.
type TaskRunner interface {
	Submit(task Task) error
}
