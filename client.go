package rqmon

import (
	"context"
	"errors"
	"fmt"
	"time"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	"github.com/UniQw/rqmon/internal/rctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides APIs to inspect and manage queues, registries and jobs in Redis.
// Every call runs against the store carried by its context (see Instances.Use),
// falling back to the client given to NewClient.
type Client struct {
	rdb     redis.UniversalClient
	encoder Encoder
	log     Logger
	now     func() time.Time
}

// NewClient creates a new client bound to a default store.
func NewClient(rdb redis.UniversalClient, opts ...ClientOption) *Client {
	c := &Client{rdb: rdb, encoder: &JSONEncoder{}, log: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) conn(ctx context.Context) redis.UniversalClient {
	if r, ok := rctx.From(ctx); ok {
		return r
	}
	return c.rdb
}

// Enqueue creates a job record and pushes its id onto the queue's waiting list.
// Jobs with a dependency are parked in the deferred registry instead.
// It returns the job id.
func (c *Client) Enqueue(ctx context.Context, queue, funcName string, args, kwargs any, opts ...Option) (string, error) {
	if queue == "" || funcName == "" {
		return "", fmt.Errorf("%w: queue and function are required", ErrInvalidRequest)
	}
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}

	a, err := encodeArgs(c.encoder, args)
	if err != nil {
		return "", err
	}
	kw, err := encodeArgs(c.encoder, kwargs)
	if err != nil {
		return "", err
	}

	now := c.now().UTC()
	j := &Job{
		ID:           id,
		FuncName:     funcName,
		Description:  cfg.description,
		Args:         a,
		Kwargs:       kw,
		Origin:       queue,
		CreatedAt:    now,
		TTL:          cfg.ttl,
		ResultTTL:    cfg.resultTTL,
		FailureTTL:   cfg.failureTTL,
		Timeout:      cfg.timeout,
		DependencyID: cfg.dependsOn,
		Meta:         cfg.meta,
	}
	if j.Description == "" {
		j.Description = funcName + "()"
	}
	if cfg.dependsOn != "" {
		j.Status = StatusDeferred
	} else {
		j.Status = StatusQueued
		j.EnqueuedAt = now
	}
	fields, err := j.fields(c.encoder)
	if err != nil {
		return "", err
	}

	rdb := c.conn(ctx)
	k := ikeys.For(queue)
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, ikeys.Job(id), fields)
		if j.TTL != nil && *j.TTL > 0 {
			p.Expire(ctx, ikeys.Job(id), time.Duration(*j.TTL)*time.Second)
		}
		p.SAdd(ctx, ikeys.Queues, k.Waiting)
		switch {
		case cfg.dependsOn != "":
			p.ZAdd(ctx, k.Deferred, redis.Z{Score: float64(now.Unix()), Member: id})
			p.SAdd(ctx, ikeys.Dependents(cfg.dependsOn), id)
		case cfg.atFront:
			p.LPush(ctx, k.Waiting, id)
		default:
			p.RPush(ctx, k.Waiting, id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FetchJob loads a single job record.
func (c *Client) FetchJob(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidRequest)
	}
	h, err := c.conn(ctx).HGetAll(ctx, ikeys.Job(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return decodeJob(id, h, c.encoder), nil
}

// fetchJobs resolves ids to job records with one pipelined round trip. Ids whose
// record has vanished (expired or deleted concurrently) are skipped.
func (c *Client) fetchJobs(ctx context.Context, ids []string) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.conn(ctx).Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, ikeys.Job(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			c.log.Debugf("fetch: job record missing id=%s", ids[i])
			continue
		}
		out = append(out, decodeJob(ids[i], h, c.encoder))
	}
	return out, nil
}

// cancelScript takes an id off a waiting list and marks its record canceled.
// Returns 0 when the id was not waiting and -1 when its record is gone.
var cancelScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then return 0 end
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
redis.call('HSET', KEYS[2], 'status', 'canceled')
return 1
`)

// CancelJob removes a queued job from its waiting list without placing it anywhere
// else. The record is kept with status canceled.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	j, err := c.FetchJob(ctx, id)
	if err != nil {
		return err
	}
	return c.cancel(ctx, j.Origin, id)
}

func (c *Client) cancel(ctx context.Context, queue, id string) error {
	n, err := cancelScript.Run(ctx, c.conn(ctx), []string{ikeys.Queue(queue), ikeys.Job(id)}, id).Int64()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case 0:
		return fmt.Errorf("%w: job %s is not queued on %s", ErrInvalidJobOperation, id, queue)
	}
	return nil
}

// DeleteJob removes a job from every container of its origin queue and deletes its record.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	j, err := c.FetchJob(ctx, id)
	if err != nil {
		return err
	}
	k := ikeys.For(j.Origin)
	_, err = c.conn(ctx).TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, k.Waiting, 0, id)
		for _, key := range []string{k.Started, k.Finished, k.Failed, k.Deferred, k.Scheduled} {
			p.ZRem(ctx, key, id)
		}
		p.Del(ctx, ikeys.Job(id), ikeys.Dependents(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete job %s: %v", ErrActionFailed, id, err)
	}
	return nil
}

// requeueScript moves one id from the failed registry back onto its waiting list.
// Returns 0 when the id is not in the failed registry and -1 when its record is gone
// (the dangling id is dropped from the registry).
var requeueScript = redis.NewScript(`
local failed = KEYS[1]
local waiting = KEYS[2]
local jobkey = KEYS[3]
local queues = KEYS[4]
local id = ARGV[1]
if redis.call('EXISTS', jobkey) == 0 then
  redis.call('ZREM', failed, id)
  return -1
end
if redis.call('ZREM', failed, id) == 0 then return 0 end
redis.call('HSET', jobkey, 'status', 'queued', 'enqueued_at', ARGV[2])
redis.call('HDEL', jobkey, 'exc_info', 'ended_at')
redis.call('RPUSH', waiting, id)
redis.call('SADD', queues, waiting)
return 1
`)

// RequeueJob moves a failed job back onto its queue's waiting list. Jobs outside the
// failed registry yield ErrInvalidJobOperation.
func (c *Client) RequeueJob(ctx context.Context, id string) error {
	j, err := c.FetchJob(ctx, id)
	if err != nil {
		return err
	}
	return c.requeue(ctx, j.Origin, id)
}

func (c *Client) requeue(ctx context.Context, queue, id string) error {
	k := ikeys.For(queue)
	n, err := requeueScript.Run(ctx, c.conn(ctx),
		[]string{k.Failed, k.Waiting, ikeys.Job(id), ikeys.Queues},
		id, formatTime(c.now())).Int64()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case 0:
		return fmt.Errorf("%w: job %s is not in the failed registry of %s", ErrInvalidJobOperation, id, queue)
	}
	return nil
}

func isNil(err error) bool { return errors.Is(err, redis.Nil) }
