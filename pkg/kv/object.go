package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ObjectStore is the subset of Store an ObjectCache needs
type ObjectStore interface {
	StringStore
	KeyStore
}

// ObjectCache stores values of type T as JSON strings under prefix:id
type ObjectCache[T any] struct {
	store  ObjectStore
	prefix string
	ttl    time.Duration
}

// NewObjectCache creates a cache whose writes expire after ttl (0 keeps them forever)
func NewObjectCache[T any](store ObjectStore, prefix string, ttl time.Duration) *ObjectCache[T] {
	return &ObjectCache[T]{store: store, prefix: prefix, ttl: ttl}
}

// Key returns the store key used for id
func (c *ObjectCache[T]) Key(id string) string {
	if c.prefix == "" {
		return id
	}
	return c.prefix + ":" + id
}

// Put encodes value and overwrites the entry for id
func (c *ObjectCache[T]) Put(ctx context.Context, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return NewOpError("object_put", c.Key(id), ErrMalformedArgument, fmt.Errorf("encode: %w", err))
	}
	return c.store.Set(ctx, c.Key(id), string(data), c.ttl)
}

// Get returns the decoded value for id, or ErrNotFound
func (c *ObjectCache[T]) Get(ctx context.Context, id string) (T, error) {
	var value T

	data, err := c.store.Get(ctx, c.Key(id))
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return value, NewOpError("object_get", c.Key(id), ErrOperationFailed, fmt.Errorf("decode: %w", err))
	}
	return value, nil
}

// Delete removes the entry for id
func (c *ObjectCache[T]) Delete(ctx context.Context, id string) error {
	_, err := c.store.Delete(ctx, c.Key(id))
	return err
}
