// Package objectstore keeps binary payloads (complex observation values)
// outside the relational store. Rows carry only the object key.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is the port the observation service writes complex values through.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}
