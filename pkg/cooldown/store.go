// Package cooldown tracks which senders were greeted recently.
//
// An entry is inserted when a sender is greeted and expires a fixed TTL later,
// regardless of further activity. In once mode entries never expire, so every
// sender is greeted at most once per store lifetime.
package cooldown

import (
	"context"
	"time"
)

// Store is the expiring "greeted" set shared by message handlers. All
// methods are safe for concurrent use. Contains followed by Mark is not
// atomic.
type Store interface {
	Contains(ctx context.Context, sender string) (bool, error)
	Mark(ctx context.Context, sender string) error
	// Release forgets sender ahead of expiry; used by DELETE /greeted/{sender}
	Release(ctx context.Context, sender string) error
	// Sweep evicts expired entries and returns how many were removed
	Sweep(ctx context.Context) (int, error)
	// Len counts live entries
	Len(ctx context.Context) (int, error)
}

// Clock returns the current time
type Clock func() time.Time

type Options struct {
	TTL   time.Duration
	Once  bool
	Clock Clock
}

func (o Options) clock() Clock {
	if o.Clock == nil {
		return time.Now
	}
	return o.Clock
}
