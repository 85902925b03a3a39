package rqmon

import (
	"context"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Status is the lifecycle state of a job. Every status except StatusCanceled names
// a container (the waiting list or one registry) that holds the job's id.
type Status string

const (
	// StatusQueued jobs wait in the queue's LIST.
	StatusQueued Status = "queued"
	// StatusStarted jobs are held by a worker (ZSET scored by timeout expiry).
	StatusStarted Status = "started"
	// StatusFinished jobs completed successfully (ZSET scored by result_ttl expiry).
	StatusFinished Status = "finished"
	// StatusFailed jobs failed permanently (ZSET scored by failure_ttl expiry).
	StatusFailed Status = "failed"
	// StatusDeferred jobs wait on a dependency (ZSET).
	StatusDeferred Status = "deferred"
	// StatusScheduled jobs wait for their run-at time (ZSET scored by run-at).
	StatusScheduled Status = "scheduled"
	// StatusCanceled jobs were removed from the waiting list and live in no container.
	StatusCanceled Status = "canceled"
)

// AllStatuses lists every status backed by a container, in pagination order.
var AllStatuses = []Status{StatusQueued, StatusStarted, StatusFinished, StatusFailed, StatusDeferred, StatusScheduled}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a string into a container-backed Status, returning
// ErrRegistryNotFound for anything else.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := registries[st]; !ok {
		return "", ErrRegistryNotFound
	}
	return st, nil
}

// registry describes how one status is stored: its key, how to rank-range and
// count it, and the script that drains it.
type registry struct {
	key   func(queue string) string
	rank  func(ctx context.Context, c redis.Cmdable, key string, start, stop int64) *redis.StringSliceCmd
	card  func(ctx context.Context, c redis.Cmdable, key string) *redis.IntCmd
	drain *redis.Script
	// expiring registries score members by an expiry timestamp that CleanupRegistry honours.
	expiring bool
}

func listRank(ctx context.Context, c redis.Cmdable, key string, start, stop int64) *redis.StringSliceCmd {
	return c.LRange(ctx, key, start, stop)
}

func listCard(ctx context.Context, c redis.Cmdable, key string) *redis.IntCmd {
	return c.LLen(ctx, key)
}

func zsetRank(ctx context.Context, c redis.Cmdable, key string, start, stop int64) *redis.StringSliceCmd {
	return c.ZRange(ctx, key, start, stop)
}

func zsetCard(ctx context.Context, c redis.Cmdable, key string) *redis.IntCmd {
	return c.ZCard(ctx, key)
}

var registries = map[Status]registry{
	StatusQueued:    {key: ikeys.Queue, rank: listRank, card: listCard, drain: emptyQueueScript},
	StatusStarted:   {key: ikeys.Started, rank: zsetRank, card: zsetCard, drain: drainRegistryScript, expiring: true},
	StatusFinished:  {key: ikeys.Finished, rank: zsetRank, card: zsetCard, drain: drainRegistryScript, expiring: true},
	StatusFailed:    {key: ikeys.Failed, rank: zsetRank, card: zsetCard, drain: drainRegistryScript, expiring: true},
	StatusDeferred:  {key: ikeys.Deferred, rank: zsetRank, card: zsetCard, drain: drainRegistryScript},
	StatusScheduled: {key: ikeys.Scheduled, rank: zsetRank, card: zsetCard, drain: drainRegistryScript},
}

func (s Status) registry() (registry, error) {
	r, ok := registries[s]
	if !ok {
		return registry{}, ErrRegistryNotFound
	}
	return r, nil
}

// Key returns the store key of the container that holds jobs in this status for queue.
func (s Status) Key(queue string) (string, error) {
	r, err := s.registry()
	if err != nil {
		return "", err
	}
	return r.key(queue), nil
}

// IsWaitingList reports whether the status is served by the queue's own LIST.
func (s Status) IsWaitingList() bool { return s == StatusQueued }
