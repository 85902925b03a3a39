package rqmon

import (
	"context"
	"errors"
	"fmt"

	"github.com/UniQw/rqmon/internal/rctx"
	"github.com/redis/go-redis/v9"
)

// Instances holds the configured store instances a caller may switch between.
// Instance 0 is the default.
type Instances struct {
	clients []redis.UniversalClient
	urls    []string
}

// NewInstances wraps already-built clients.
func NewInstances(clients ...redis.UniversalClient) *Instances {
	return &Instances{clients: clients, urls: make([]string, len(clients))}
}

// DialInstances builds one client per URL (redis://, rediss:// or unix://).
func DialInstances(urls []string) (*Instances, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one redis url is required", ErrInvalidRequest)
	}
	in := &Instances{}
	for _, u := range urls {
		opt, err := redis.ParseURL(u)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("%w: redis url %q: %v", ErrInvalidRequest, u, err)
		}
		in.clients = append(in.clients, redis.NewClient(opt))
		in.urls = append(in.urls, u)
	}
	return in, nil
}

// Len returns the number of configured instances.
func (in *Instances) Len() int { return len(in.clients) }

// URLs returns the configured URLs; entries are empty for clients passed to NewInstances.
func (in *Instances) URLs() []string { return append([]string(nil), in.urls...) }

// Default returns instance 0.
func (in *Instances) Default() redis.UniversalClient {
	if len(in.clients) == 0 {
		return nil
	}
	return in.clients[0]
}

// Get returns instance n.
func (in *Instances) Get(n int) (redis.UniversalClient, error) {
	if n < 0 || n >= len(in.clients) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrUnknownInstance, n, len(in.clients))
	}
	return in.clients[n], nil
}

// Use returns a child of ctx that routes every Client call to instance n. The parent
// context keeps its own instance, so the selection ends with the call that made it.
func (in *Instances) Use(ctx context.Context, n int) (context.Context, error) {
	c, err := in.Get(n)
	if err != nil {
		return ctx, err
	}
	return rctx.WithClient(ctx, c), nil
}

// Close closes every instance.
func (in *Instances) Close() error {
	var errs []error
	for _, c := range in.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithStore returns a child of ctx that routes every Client call to rdb.
func WithStore(ctx context.Context, rdb redis.UniversalClient) context.Context {
	return rctx.WithClient(ctx, rdb)
}
