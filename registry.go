package rqmon

import (
	"context"
	"fmt"
	"strconv"
	"time"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// drainRegistryScript pops every member of a registry lowest score first and deletes
// each job record. Members added while the script runs are either swept in the same
// call or left for the next one; none is skipped.
var drainRegistryScript = redis.NewScript(`
local count = 0
while true do
  local popped = redis.call('ZPOPMIN', KEYS[1], 500)
  if #popped == 0 then break end
  for i = 1, #popped, 2 do
    redis.call('DEL', ARGV[1] .. popped[i], ARGV[1] .. popped[i] .. ':dependents')
    count = count + 1
  end
end
return count
`)

// expireScript removes registry members whose expiry score has passed. With a second
// key the members are moved into that (failed) registry instead of being deleted.
var expireScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  if KEYS[2] then
    redis.call('ZADD', KEYS[2], ARGV[3], id)
    redis.call('HSET', ARGV[2] .. id, 'status', 'failed', 'ended_at', ARGV[4],
      'exc_info', 'Moved to failed job registry: job exceeded its timeout')
  else
    redis.call('DEL', ARGV[2] .. id, ARGV[2] .. id .. ':dependents')
  end
end
return #ids
`)

// DefaultFailureTTL is how long abandoned jobs stay in the failed registry.
const DefaultFailureTTL = 365 * 24 * time.Hour

// JobIDsInRegistry returns the ids ranked [start, end] (inclusive, negative counts
// from the tail) in the container for status.
func (c *Client) JobIDsInRegistry(ctx context.Context, queue string, status Status, start, end int64) ([]string, error) {
	r, err := status.registry()
	if err != nil {
		return nil, err
	}
	ids, err := r.rank(ctx, c.conn(ctx), r.key(queue), start, end).Result()
	if err != nil && !isNil(err) {
		return nil, err
	}
	return ids, nil
}

// ListJobsInRegistry returns the jobs ranked [start, end] (inclusive) in the container
// for status, resolved to full records.
func (c *Client) ListJobsInRegistry(ctx context.Context, queue string, status Status, start, end int64) ([]*Job, error) {
	ids, err := c.JobIDsInRegistry(ctx, queue, status, start, end)
	if err != nil {
		return nil, err
	}
	return c.fetchJobs(ctx, ids)
}

// CountInRegistry returns the cardinality of the container for status without touching job records.
func (c *Client) CountInRegistry(ctx context.Context, queue string, status Status) (int64, error) {
	r, err := status.registry()
	if err != nil {
		return 0, err
	}
	return r.card(ctx, c.conn(ctx), r.key(queue)).Result()
}

// countBlocks reads the cardinality of every block in one pipeline.
func (c *Client) countBlocks(ctx context.Context, blocks []Block) error {
	cmds := make([]*redis.IntCmd, len(blocks))
	_, err := c.conn(ctx).Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, b := range blocks {
			r, err := b.Status.registry()
			if err != nil {
				return err
			}
			cmds[i] = r.card(ctx, p, r.key(b.Queue))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range blocks {
		blocks[i].Count = cmds[i].Val()
	}
	return nil
}

// EmptyRegistry atomically drains the container for status and deletes every member's
// record, returning how many were removed. The waiting list is drained with the
// queue script, other registries lowest score first.
func (c *Client) EmptyRegistry(ctx context.Context, status Status, queue string) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("%w: queue name is required", ErrInvalidRequest)
	}
	r, err := status.registry()
	if err != nil {
		return 0, err
	}
	n, err := r.drain.Run(ctx, c.conn(ctx), []string{r.key(queue), ikeys.Queues}, ikeys.JobPrefix, "0").Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: empty %s registry of %s: %v", ErrActionFailed, status, queue, err)
	}
	c.log.Debugf("registry emptied: queue=%s status=%s removed=%d", queue, status, n)
	return n, nil
}

// CleanupRegistry removes members whose expiry score has passed. Expired started
// entries are moved to the failed registry; expired finished and failed entries are
// deleted with their records. Non-expiring registries are left untouched.
func (c *Client) CleanupRegistry(ctx context.Context, queue string, status Status) (int64, error) {
	r, err := status.registry()
	if err != nil {
		return 0, err
	}
	if !r.expiring {
		return 0, nil
	}
	now := c.now()
	nowScore := strconv.FormatInt(now.Unix(), 10)
	k := ikeys.For(queue)
	var cmd *redis.Cmd
	if status == StatusStarted {
		failScore := strconv.FormatInt(now.Add(DefaultFailureTTL).Unix(), 10)
		cmd = expireScript.Run(ctx, c.conn(ctx), []string{k.Started, k.Failed}, nowScore, ikeys.JobPrefix, failScore, formatTime(now))
	} else {
		cmd = expireScript.Run(ctx, c.conn(ctx), []string{r.key(queue)}, nowScore, ikeys.JobPrefix)
	}
	n, err := cmd.Int64()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Infof("registry cleanup: queue=%s status=%s removed=%d", queue, status, n)
	}
	return n, nil
}
