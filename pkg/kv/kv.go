// Package kv defines the durable key-value storage the session core persists
// into. Drivers live under internal/store/drivers.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: not found")

// Store is a flat string-keyed byte store. Put must replace the whole value
// in one step so readers never observe a partial write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
