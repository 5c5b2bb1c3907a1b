package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned by store operations after Close.
	ErrStoreClosed = errors.New("session: store closed")
)

// Store persists serialized session records keyed by session ID.
//
// Implementations must be safe for concurrent use. Load returns (nil, nil)
// when no record exists; expired records count as absent.
type Store interface {
	// Save writes data under id. The record becomes unavailable after
	// expiresAt; a Save with a non-future expiry removes the record.
	Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error
	// Load returns the data stored under id, or (nil, nil) when absent.
	Load(ctx context.Context, id string) ([]byte, error)
	// Delete removes the record under id. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, id string) error
	// Close releases store resources. Operations after Close fail with
	// ErrStoreClosed.
	Close() error
}
