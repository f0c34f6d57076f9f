// Package kv provides string-keyed blob stores used to persist class
// sessions. None of the backends offer transactions; the ones that can
// support it also implement Swapper for compare-and-swap writes.
package kv

import (
	"context"
	"errors"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = errors.New("kv: nil")

// Client is a plain get/set store.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Swapper is a Client that can replace a value only if it still holds the
// bytes the caller last read. A nil old value means "only if absent".
type Swapper interface {
	Client
	CompareAndSwap(ctx context.Context, key string, old, value []byte) (bool, error)
}
