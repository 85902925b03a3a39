package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Registration is what a worker process writes about itself when it starts.
type Registration struct {
	Name     string
	Hostname string
	PID      int
	Queues   []string
	// TTL bounds the worker key; a worker that stops heartbeating disappears.
	TTL time.Duration
}

// Register writes the worker hash and adds it to the global and per-queue worker sets.
func Register(ctx context.Context, rdb redis.UniversalClient, r Registration, now time.Time) error {
	key := keys.Worker(r.Name)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"birth", stamp(now),
			"last_heartbeat", stamp(now),
			"queues", strings.Join(r.Queues, ","),
			"pid", strconv.Itoa(r.PID),
			"hostname", r.Hostname,
			"state", "idle",
			"successful_job_count", 0,
			"failed_job_count", 0,
		)
		if r.TTL > 0 {
			p.Expire(ctx, key, r.TTL)
		}
		p.SAdd(ctx, keys.Workers, key)
		for _, q := range r.Queues {
			p.SAdd(ctx, keys.WorkersByQueue(q), key)
		}
		return nil
	})
	return err
}

// Heartbeat records the worker state and current job and refreshes the key ttl.
func Heartbeat(ctx context.Context, rdb redis.UniversalClient, name, state, currentJob string, now time.Time, ttl time.Duration) error {
	key := keys.Worker(name)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "last_heartbeat", stamp(now), "state", state, "current_job", currentJob)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// Unregister marks the worker dead and removes it from the worker sets.
func Unregister(ctx context.Context, rdb redis.UniversalClient, name string, queues []string, now time.Time) error {
	key := keys.Worker(name)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "death", stamp(now), "state", "dead")
		p.Expire(ctx, key, 60*time.Second)
		p.SRem(ctx, keys.Workers, key)
		for _, q := range queues {
			p.SRem(ctx, keys.WorkersByQueue(q), key)
		}
		return nil
	})
	return err
}
