package rqmon

import (
	"context"
	"fmt"
)

// Block is one (queue, status) pair treated as a contiguous run of global rank space.
type Block struct {
	Queue  string
	Status Status
	Count  int64
}

// BlockFetcher returns the jobs ranked [start, end] (inclusive) inside one block.
type BlockFetcher func(ctx context.Context, b Block, start, end int64) ([]*Job, error)

// ResolvePage returns the jobs whose global rank falls in [start, start+length) over
// the ordered blocks. Blocks before the window are skipped using their counts alone,
// and no block is asked for more than length records. A start beyond the total
// yields an empty page.
func ResolvePage(ctx context.Context, blocks []Block, start, length int64, fetch BlockFetcher) ([]*Job, error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: negative start %d", ErrInvalidRequest, start)
	}
	if length <= 0 {
		return []*Job{}, nil
	}

	i, cursor := 0, start
	for ; i < len(blocks); i++ {
		if cursor < blocks[i].Count {
			break
		}
		cursor -= blocks[i].Count
	}

	out := make([]*Job, 0, length)
	for ; i < len(blocks) && int64(len(out)) < length; i++ {
		b := blocks[i]
		if cursor >= b.Count {
			cursor = 0
			continue
		}
		end := min(cursor+length-int64(len(out)), b.Count) - 1
		jobs, err := fetch(ctx, b, cursor, end)
		if err != nil {
			return nil, err
		}
		out = append(out, jobs...)
		cursor = 0
	}
	if int64(len(out)) > length {
		out = out[:length]
	}
	return out, nil
}

// JobQuery selects a window over the jobs of a set of queues and statuses.
// Empty Queues means every registered queue; empty Statuses means AllStatuses.
// Length <= 0 returns every matching job.
type JobQuery struct {
	Queues   []string
	Statuses []Status
	Start    int64
	Length   int64
}

// JobPage is one window of a JobQuery.
type JobPage struct {
	// RecordsTotal counts every job in every container of every queue.
	RecordsTotal int64
	// RecordsFiltered counts the jobs matching the query filters.
	RecordsFiltered int64
	Jobs            []*Job
}

// ListJobs pages over queues × statuses in the order given, queue-major.
func (c *Client) ListJobs(ctx context.Context, q JobQuery) (*JobPage, error) {
	for _, st := range q.Statuses {
		if _, err := st.registry(); err != nil {
			return nil, fmt.Errorf("%w: status %q: %w", ErrInvalidRequest, st, err)
		}
	}
	if q.Start < 0 {
		return nil, fmt.Errorf("%w: negative start %d", ErrInvalidRequest, q.Start)
	}

	all, err := c.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	queues := q.Queues
	if len(queues) == 0 {
		queues = all
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = AllStatuses
	}

	blocks := makeBlocks(queues, statuses)
	if err := c.countBlocks(ctx, blocks); err != nil {
		return nil, err
	}
	totalBlocks := makeBlocks(all, AllStatuses)
	if err := c.countBlocks(ctx, totalBlocks); err != nil {
		return nil, err
	}

	page := &JobPage{RecordsTotal: sumCounts(totalBlocks), RecordsFiltered: sumCounts(blocks)}
	length := q.Length
	if length <= 0 {
		length = page.RecordsFiltered
	}
	page.Jobs, err = ResolvePage(ctx, blocks, q.Start, length, func(ctx context.Context, b Block, start, end int64) ([]*Job, error) {
		return c.ListJobsInRegistry(ctx, b.Queue, b.Status, start, end)
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// makeBlocks expands queues × statuses queue-major. Repeated filter values are
// dropped, keeping the first occurrence, so no container is paged twice.
func makeBlocks(queues []string, statuses []Status) []Block {
	queues, statuses = unique(queues), unique(statuses)
	out := make([]Block, 0, len(queues)*len(statuses))
	for _, q := range queues {
		for _, st := range statuses {
			out = append(out, Block{Queue: q, Status: st})
		}
	}
	return out
}

func unique[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sumCounts(blocks []Block) int64 {
	var n int64
	for _, b := range blocks {
		n += b.Count
	}
	return n
}
