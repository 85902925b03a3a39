package rqmon

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Worker is a consumer process as registered by the process itself under rq:worker:<name>.
// The monitor only reads and signals workers.
type Worker struct {
	Name          string    `json:"worker_name"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Queues        []string  `json:"queues"`
	State         string    `json:"state"`
	CurrentJobID  string    `json:"current_job_id"`
	Birth         time.Time `json:"birth"`
	Death         time.Time `json:"death"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SuccessCount  int64     `json:"success_jobs"`
	FailedCount   int64     `json:"failed_jobs"`
	// TTL is the remaining lifetime of the worker key; zero when it does not expire.
	TTL time.Duration `json:"-"`
}

// Key returns the store key of the worker.
func (w *Worker) Key() string { return ikeys.Worker(w.Name) }

func decodeWorker(name string, h map[string]string) *Worker {
	w := &Worker{
		Name:          name,
		Hostname:      h["hostname"],
		State:         h["state"],
		CurrentJobID:  h["current_job"],
		Birth:         parseTime(h["birth"]),
		Death:         parseTime(h["death"]),
		LastHeartbeat: parseTime(h["last_heartbeat"]),
	}
	w.PID, _ = strconv.Atoi(h["pid"])
	w.SuccessCount, _ = strconv.ParseInt(h["successful_job_count"], 10, 64)
	w.FailedCount, _ = strconv.ParseInt(h["failed_job_count"], 10, 64)
	if q := h["queues"]; q != "" {
		for _, name := range strings.Split(q, ",") {
			if name = strings.TrimSpace(name); name != "" {
				w.Queues = append(w.Queues, name)
			}
		}
	}
	return w
}

// ListWorkers returns every registered worker, sorted by name. Keys registered in the
// worker set whose hash has expired are skipped.
func (c *Client) ListWorkers(ctx context.Context) ([]*Worker, error) {
	rdb := c.conn(ctx)
	members, err := rdb.SMembers(ctx, ikeys.Workers).Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, ikeys.WorkerName(m))
	}
	sort.Strings(names)

	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err = rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, n := range names {
			cmds[i] = p.HGetAll(ctx, ikeys.Worker(n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Worker, 0, len(names))
	for i, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, decodeWorker(names[i], h))
		} else {
			c.log.Debugf("workers: stale registration name=%s", names[i])
		}
	}
	return out, nil
}

// FindWorker resolves a worker by bare name or full key.
func (c *Client) FindWorker(ctx context.Context, id string) (*Worker, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidRequest)
	}
	name := ikeys.WorkerName(id)
	rdb := c.conn(ctx)
	var h *redis.MapStringStringCmd
	var ttl *redis.DurationCmd
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		h = p.HGetAll(ctx, ikeys.Worker(name))
		ttl = p.TTL(ctx, ikeys.Worker(name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(h.Val()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	w := decodeWorker(name, h.Val())
	if d := ttl.Val(); d > 0 {
		w.TTL = d
	}
	return w, nil
}

// WorkerInfo is the detail view of one worker, with placeholders for unknown values.
type WorkerInfo struct {
	Hostname      string `json:"worker_host_name"`
	TTL           string `json:"worker_ttl"`
	Name          string `json:"worker_name"`
	PID           int    `json:"worker_pid"`
	Queues        string `json:"worker_queues"`
	State         string `json:"worker_state"`
	Birth         string `json:"worker_birth_date"`
	Death         string `json:"worker_death_date"`
	LastHeartbeat string `json:"worker_last_heartbeat"`
	FailedCount   int64  `json:"worker_failed_job_count"`
	SuccessCount  int64  `json:"worker_successful_job_count"`
	CurrentJobID  string `json:"worker_current_job_id"`
}

const infoTimeLayout = "02-01-2006 15:04:05"

func timeOr(t time.Time, def string) string {
	if t.IsZero() {
		return def
	}
	return t.UTC().Format(infoTimeLayout)
}

// Info renders the worker detail view.
func (w *Worker) Info() WorkerInfo {
	ttl := "Infinite"
	if w.TTL > 0 {
		ttl = w.TTL.Truncate(time.Second).String()
	}
	return WorkerInfo{
		Hostname:      w.Hostname,
		TTL:           ttl,
		Name:          w.Name,
		PID:           w.PID,
		Queues:        strings.Join(w.Queues, ", "),
		State:         w.State,
		Birth:         timeOr(w.Birth, "Not Available"),
		Death:         timeOr(w.Death, "Is Alive"),
		LastHeartbeat: timeOr(w.LastHeartbeat, "Not Available"),
		FailedCount:   w.FailedCount,
		SuccessCount:  w.SuccessCount,
		CurrentJobID:  w.CurrentJobID,
	}
}
