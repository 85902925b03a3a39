package rctx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Package rctx carries the store connection selected for one call.
// Deriving a child context is the push; dropping it when the call returns is the pop.

type ctxKey struct{}

// WithClient returns a child context carrying the given client.
func WithClient(parent context.Context, c redis.UniversalClient) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// From extracts the client from context if present.
func From(ctx context.Context) (redis.UniversalClient, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	c, ok := v.(redis.UniversalClient)
	return c, ok && c != nil
}
