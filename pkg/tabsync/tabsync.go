// Package tabsync tells other tabs sharing a token store that something
// changed. A ping carries no payload beyond the key; receivers re-read
// storage themselves.
//
// Delivery is best effort and is not a lock: two tabs can still act on the
// same change at the same time.
package tabsync

import (
	"context"
	"time"
)

// Signal is one ping as seen by a receiver.
type Signal struct {
	Key    string
	Origin string
	At     time.Time
}

// Bus connects one tab to its peers. A bus never delivers a tab its own
// pings.
type Bus interface {
	Ping(ctx context.Context, key string) error
	// Subscribe registers fn for pings from other origins. Calling the
	// returned func removes it.
	Subscribe(fn func(Signal)) (cancel func())
	Origin() string
	Close() error
}
