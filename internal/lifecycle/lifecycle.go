// Package lifecycle moves jobs between the waiting list and the registries the way a
// worker process does. The monitor itself never runs jobs; these transitions back the
// seed command and tests that need registries populated realistically.
package lifecycle

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// TimeLayout is the timestamp format stored in job and worker hashes.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// ErrNotInRegistry is returned when a job is not in the registry a transition expects.
var ErrNotInRegistry = errors.New("lifecycle: job not in expected registry")

// ErrNoJob is returned when a job record does not exist.
var ErrNoJob = errors.New("lifecycle: job record missing")

func stamp(t time.Time) string { return t.UTC().Format(TimeLayout) }

func score(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

// ttlScore returns the registry score for a retention ttl; negative ttl keeps forever.
func ttlScore(now time.Time, ttl time.Duration) string {
	if ttl < 0 {
		return "+inf"
	}
	return score(now.Add(ttl))
}

func ttlSeconds(ttl time.Duration) string {
	if ttl < 0 {
		return "-1"
	}
	return strconv.FormatInt(int64(math.Ceil(ttl.Seconds())), 10)
}

// Atomic dequeue: LPOP from the waiting list and ZADD into started with the timeout
// expiry as score. Ids whose record has vanished are dropped.
var startScript = redis.NewScript(
	// language=Lua
	`
	while true do
		local id = redis.call('LPOP', KEYS[1])
		if not id then return false end
		if redis.call('EXISTS', ARGV[1] .. id) == 1 then
			redis.call('ZADD', KEYS[2], ARGV[2], id)
			redis.call('HSET', ARGV[1] .. id, 'status', 'started', 'started_at', ARGV[3])
			return id
		end
	end
	`,
)

// finishScript moves a started job into finished. A zero ttl discards the result
// and the record with it.
var finishScript = redis.NewScript(
	// language=Lua
	`
	if redis.call('ZREM', KEYS[1], ARGV[2]) == 0 then return 0 end
	local key = ARGV[1] .. ARGV[2]
	local ttl = tonumber(ARGV[5])
	if ttl == 0 then
		redis.call('DEL', key, key .. ':dependents')
		return 1
	end
	redis.call('HSET', key, 'status', 'finished', 'ended_at', ARGV[4])
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
	if ttl > 0 then redis.call('EXPIRE', key, ttl) else redis.call('PERSIST', key) end
	return 1
	`,
)

// failScript moves a started job into failed and records the failure info.
var failScript = redis.NewScript(
	// language=Lua
	`
	if redis.call('ZREM', KEYS[1], ARGV[2]) == 0 then return 0 end
	local key = ARGV[1] .. ARGV[2]
	redis.call('HSET', key, 'status', 'failed', 'ended_at', ARGV[4], 'exc_info', ARGV[5])
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
	local ttl = tonumber(ARGV[6])
	if ttl > 0 then redis.call('EXPIRE', key, ttl) end
	return 1
	`,
)

// parkScript takes a job off the waiting list and parks it in a registry
// (scheduled or deferred). ARGV[5], when set, is a parent job whose dependents set
// receives the id.
var parkScript = redis.NewScript(
	// language=Lua
	`
	local key = ARGV[1] .. ARGV[2]
	if redis.call('EXISTS', key) == 0 then return 0 end
	redis.call('LREM', KEYS[1], 0, ARGV[2])
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
	redis.call('HSET', key, 'status', ARGV[4])
	if ARGV[5] ~= '' then
		redis.call('SADD', ARGV[1] .. ARGV[5] .. ':dependents', ARGV[2])
		redis.call('HSET', key, 'dependency_id', ARGV[5])
	end
	return 1
	`,
)

// Start dequeues the next job of the queue into its started registry, scored by the
// moment its timeout elapses. It returns "" when the waiting list is empty.
func Start(ctx context.Context, rdb redis.Scripter, q keys.QueueSet, now time.Time, timeout time.Duration) (string, error) {
	res, err := startScript.Run(ctx, rdb, []string{q.Waiting, q.Started}, keys.JobPrefix, ttlScore(now, timeout), stamp(now)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, _ := res.(string)
	return id, nil
}

// Finish moves a started job into the finished registry. resultTTL < 0 keeps the
// result forever; 0 discards the job immediately.
func Finish(ctx context.Context, rdb redis.Scripter, q keys.QueueSet, id string, now time.Time, resultTTL time.Duration) error {
	n, err := finishScript.Run(ctx, rdb, []string{q.Started, q.Finished},
		keys.JobPrefix, id, ttlScore(now, resultTTL), stamp(now), ttlSeconds(resultTTL)).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotInRegistry
	}
	return nil
}

// Fail moves a started job into the failed registry with excInfo as its failure info.
func Fail(ctx context.Context, rdb redis.Scripter, q keys.QueueSet, id string, now time.Time, failureTTL time.Duration, excInfo string) error {
	n, err := failScript.Run(ctx, rdb, []string{q.Started, q.Failed},
		keys.JobPrefix, id, ttlScore(now, failureTTL), stamp(now), excInfo, ttlSeconds(failureTTL)).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotInRegistry
	}
	return nil
}

// Schedule parks a job in the scheduled registry, scored by its run time.
func Schedule(ctx context.Context, rdb redis.Scripter, q keys.QueueSet, id string, runAt time.Time) error {
	return park(ctx, rdb, q.Waiting, q.Scheduled, id, score(runAt), "scheduled", "")
}

// Defer parks a job in the deferred registry until parent completes.
func Defer(ctx context.Context, rdb redis.Scripter, q keys.QueueSet, id, parent string, now time.Time) error {
	return park(ctx, rdb, q.Waiting, q.Deferred, id, score(now), "deferred", parent)
}

func park(ctx context.Context, rdb redis.Scripter, from, to, id, sc, status, parent string) error {
	n, err := parkScript.Run(ctx, rdb, []string{from, to}, keys.JobPrefix, id, sc, status, parent).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoJob
	}
	return nil
}
