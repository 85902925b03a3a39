package rqmon

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultMemoryPattern matches every key this package reads or writes.
const DefaultMemoryPattern = "rq:*"

const memoryScanCount = 1000

// StoreMemoryUsage sums MEMORY USAGE over every key matching pattern. The keyspace
// is walked with SCAN so the store is never blocked by one large listing; the walk
// ends only when the cursor comes back to zero. Keys that vanish mid-walk count as zero.
// The total is not an atomic snapshot: keys written or removed while the walk runs
// may or may not be counted.
func (c *Client) StoreMemoryUsage(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		pattern = DefaultMemoryPattern
	}
	rdb := c.conn(ctx)
	var (
		total  int64
		cursor uint64
		keys   int
	)
	for {
		batch, next, err := rdb.Scan(ctx, cursor, pattern, memoryScanCount).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: scan %s: %v", ErrActionFailed, pattern, err)
		}
		if len(batch) > 0 {
			n, err := memoryOf(ctx, rdb, batch)
			if err != nil {
				return 0, fmt.Errorf("%w: memory usage: %v", ErrActionFailed, err)
			}
			total += n
			keys += len(batch)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.log.Debugf("memory: pattern=%s keys=%d bytes=%d", pattern, keys, total)
	return total, nil
}

func memoryOf(ctx context.Context, rdb redis.UniversalClient, batch []string) (int64, error) {
	cmds := make([]*redis.IntCmd, len(batch))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range batch {
			cmds[i] = p.MemoryUsage(ctx, k)
		}
		return nil
	})
	if err != nil && !isNil(err) {
		return 0, err
	}
	var n int64
	for _, cmd := range cmds {
		v, err := cmd.Result()
		switch {
		case err == nil:
			n += v
		case isNil(err):
		default:
			return 0, err
		}
	}
	return n, nil
}
