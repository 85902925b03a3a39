package rqmon

import (
	"context"
	"fmt"
	"sort"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Queue is a named waiting list and the size of that list at read time.
type Queue struct {
	Name  string `json:"queue_name"`
	Count int64  `json:"job_count"`
}

// IsEmpty reports whether the waiting list held no jobs when read.
func (q Queue) IsEmpty() bool { return q.Count == 0 }

// emptyQueueScript pops every id off a waiting list and deletes each job record.
// With ARGV[2] == "1" the registries passed as KEYS[3..] are drained the same way
// and the queue itself is dropped and unregistered.
var emptyQueueScript = redis.NewScript(`
local count = 0
local function drop(id)
  redis.call('DEL', ARGV[1] .. id, ARGV[1] .. id .. ':dependents')
  count = count + 1
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then break end
  drop(id)
end
if ARGV[2] == '1' then
  for i = 3, #KEYS do
    for _, id in ipairs(redis.call('ZRANGE', KEYS[i], 0, -1)) do
      drop(id)
    end
    redis.call('DEL', KEYS[i])
  end
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], KEYS[1])
end
return count
`)

// ListQueues returns every registered queue, sorted by name, with its waiting count.
// Counts are read in a single pipeline so they form one snapshot.
func (c *Client) ListQueues(ctx context.Context) ([]Queue, error) {
	names, err := c.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Queue{}, nil
	}
	cmds := make([]*redis.IntCmd, len(names))
	_, err = c.conn(ctx).Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, n := range names {
			cmds[i] = p.LLen(ctx, ikeys.Queue(n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Queue, len(names))
	for i, n := range names {
		out[i] = Queue{Name: n, Count: cmds[i].Val()}
	}
	return out, nil
}

func (c *Client) queueNames(ctx context.Context) ([]string, error) {
	members, err := c.conn(ctx).SMembers(ctx, ikeys.Queues).Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, ikeys.QueueName(m))
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) queueExists(ctx context.Context, name string) (bool, error) {
	rdb := c.conn(ctx)
	var member *redis.BoolCmd
	var exists *redis.IntCmd
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		member = p.SIsMember(ctx, ikeys.Queues, ikeys.Queue(name))
		exists = p.Exists(ctx, ikeys.Queue(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return member.Val() || exists.Val() > 0, nil
}

// ListJobsWaiting returns the jobs on the queue's waiting list, oldest first.
func (c *Client) ListJobsWaiting(ctx context.Context, queue string) ([]*Job, error) {
	return c.ListJobsInRegistry(ctx, queue, StatusQueued, 0, -1)
}

func (c *Client) checkQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidRequest)
	}
	ok, err := c.queueExists(ctx, queue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrActionFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	return nil
}

// EmptyQueue atomically removes every waiting job and its record. The queue stays registered.
func (c *Client) EmptyQueue(ctx context.Context, queue string) (int64, error) {
	if err := c.checkQueue(ctx, queue); err != nil {
		return 0, err
	}
	n, err := emptyQueueScript.Run(ctx, c.conn(ctx), []string{ikeys.Queue(queue), ikeys.Queues}, ikeys.JobPrefix, "0").Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: empty queue %s: %v", ErrActionFailed, queue, err)
	}
	c.log.Infof("queue emptied: queue=%s removed=%d", queue, n)
	return n, nil
}

// DeleteQueue atomically removes every job of the queue, waiting or in any registry,
// with its record, then the queue itself. It returns how many jobs were removed.
func (c *Client) DeleteQueue(ctx context.Context, queue string) (int64, error) {
	if err := c.checkQueue(ctx, queue); err != nil {
		return 0, err
	}
	k := ikeys.For(queue)
	n, err := emptyQueueScript.Run(ctx, c.conn(ctx),
		[]string{k.Waiting, ikeys.Queues, k.Started, k.Finished, k.Failed, k.Deferred, k.Scheduled},
		ikeys.JobPrefix, "1").Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: delete queue %s: %v", ErrActionFailed, queue, err)
	}
	c.log.Infof("queue deleted: queue=%s removed=%d", queue, n)
	return n, nil
}
