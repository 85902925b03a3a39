package rqmon

import (
	"context"
	"errors"
	"fmt"
)

// BulkResult reports a bulk operation. Every unit of work not listed in Failures
// was applied. Units are independent: a failure never stops the remaining ones, and
// a retried call may apply a unit twice.
type BulkResult struct {
	// Applied counts the units that succeeded (jobs removed, requeued or canceled,
	// queues emptied, stop requests delivered).
	Applied  int64
	Failures []ItemError
}

// FailureCount returns how many units failed.
func (r BulkResult) FailureCount() int { return len(r.Failures) }

// Err returns a *BulkError naming op when any unit failed.
func (r BulkResult) Err(op string) error { return bulkErr(op, r.Failures) }

func (r *BulkResult) fail(item string, err error) {
	r.Failures = append(r.Failures, ItemError{Item: item, Err: err})
}

func (c *Client) queuesOrAll(ctx context.Context, queues []string) ([]string, error) {
	if len(queues) > 0 {
		return unique(queues), nil
	}
	return c.queueNames(ctx)
}

// DeleteAllJobs removes every job of each (queue, status) pair with its record. The
// waiting list is emptied like EmptyQueue; registries are drained like EmptyRegistry.
// Empty queues means every registered queue; empty statuses means AllStatuses.
func (c *Client) DeleteAllJobs(ctx context.Context, queues []string, statuses []Status) (BulkResult, error) {
	for _, st := range statuses {
		if _, err := st.registry(); err != nil {
			return BulkResult{}, fmt.Errorf("%w: status %q: %w", ErrInvalidRequest, st, err)
		}
	}
	queues, err := c.queuesOrAll(ctx, queues)
	if err != nil {
		return BulkResult{}, err
	}
	if len(statuses) == 0 {
		statuses = AllStatuses
	}
	var res BulkResult
	for _, b := range makeBlocks(queues, statuses) {
		item := b.Queue + "/" + b.Status.String()
		if err := c.checkQueue(ctx, b.Queue); err != nil {
			res.fail(item, err)
			continue
		}
		n, err := c.EmptyRegistry(ctx, b.Status, b.Queue)
		if err != nil {
			res.fail(item, err)
			continue
		}
		res.Applied += n
	}
	c.logBulk("delete all jobs", res)
	return res, nil
}

// RequeueAllFailed moves every job of each queue's failed registry back onto its
// waiting list. Jobs that cannot be requeued (deleted or moved concurrently) are
// counted as failures.
func (c *Client) RequeueAllFailed(ctx context.Context, queues []string) (BulkResult, error) {
	queues, err := c.queuesOrAll(ctx, queues)
	if err != nil {
		return BulkResult{}, err
	}
	var res BulkResult
	for _, q := range queues {
		ids, err := c.JobIDsInRegistry(ctx, q, StatusFailed, 0, -1)
		if err != nil {
			res.fail(q, err)
			continue
		}
		for _, id := range ids {
			if err := c.requeue(ctx, q, id); err != nil {
				res.fail(id, err)
				continue
			}
			res.Applied++
		}
	}
	c.logBulk("requeue all failed", res)
	return res, nil
}

// CancelAllQueued cancels every job waiting on each queue.
func (c *Client) CancelAllQueued(ctx context.Context, queues []string) (BulkResult, error) {
	queues, err := c.queuesOrAll(ctx, queues)
	if err != nil {
		return BulkResult{}, err
	}
	var res BulkResult
	for _, q := range queues {
		ids, err := c.JobIDsInRegistry(ctx, q, StatusQueued, 0, -1)
		if err != nil {
			res.fail(q, err)
			continue
		}
		for _, id := range ids {
			if err := c.cancel(ctx, q, id); err != nil {
				res.fail(id, err)
				continue
			}
			res.Applied++
		}
	}
	c.logBulk("cancel all queued", res)
	return res, nil
}

// EmptyAllQueues empties every registered queue. Applied counts removed jobs.
func (c *Client) EmptyAllQueues(ctx context.Context) (BulkResult, error) {
	return c.eachQueue(ctx, "empty all queues", c.EmptyQueue)
}

// DeleteAllQueues deletes every registered queue. Applied counts removed jobs.
func (c *Client) DeleteAllQueues(ctx context.Context) (BulkResult, error) {
	return c.eachQueue(ctx, "delete all queues", c.DeleteQueue)
}

func (c *Client) eachQueue(ctx context.Context, op string, fn func(context.Context, string) (int64, error)) (BulkResult, error) {
	queues, err := c.queueNames(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	var res BulkResult
	for _, q := range queues {
		n, err := fn(ctx, q)
		// A queue removed by someone else in the meantime is already in the wanted state.
		if errors.Is(err, ErrQueueNotFound) {
			continue
		}
		if err != nil {
			res.fail(q, err)
			continue
		}
		res.Applied += n
	}
	c.logBulk(op, res)
	return res, nil
}

func (c *Client) logBulk(op string, res BulkResult) {
	if len(res.Failures) > 0 {
		c.log.Warnf("bulk: %s applied=%d failed=%d", op, res.Applied, len(res.Failures))
		return
	}
	c.log.Infof("bulk: %s applied=%d", op, res.Applied)
}
