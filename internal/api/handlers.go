package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/UniQw/rqmon"
	"github.com/gin-gonic/gin"
)

// value reads a form value, falling back to the query string.
func value(c *gin.Context, name string) string {
	if v, ok := c.GetPostForm(name); ok {
		return v
	}
	return c.Query(name)
}

// values reads a repeated form value (name[]), falling back to the query string.
func values(c *gin.Context, name string) []string {
	if v := c.PostFormArray(name); len(v) > 0 {
		return v
	}
	return c.QueryArray(name)
}

func (a *API) required(c *gin.Context, name string) (string, bool) {
	v := value(c, name)
	if v == "" {
		a.fail(c, fmt.Errorf("%w: %s is required", rqmon.ErrInvalidRequest, name))
		return "", false
	}
	return v, true
}

func intParam(c *gin.Context, name string, def int64) (int64, error) {
	raw := value(c, name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", rqmon.ErrInvalidRequest, name)
	}
	return n, nil
}

func statuses(raw []string) ([]rqmon.Status, error) {
	out := make([]rqmon.Status, 0, len(raw))
	for _, s := range raw {
		st, err := rqmon.ParseStatus(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", rqmon.ErrInvalidRequest, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func bulkBody(msg string, res rqmon.BulkResult) gin.H {
	failures := make([]gin.H, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, gin.H{"item": f.Item, "error": f.Err.Error()})
	}
	return gin.H{"message": msg, "applied": res.Applied, "failed": len(res.Failures), "failures": failures}
}

// listInstances handles GET /instances
func (a *API) listInstances(c *gin.Context) {
	out := []gin.H{}
	if a.instances != nil {
		for i, raw := range a.instances.URLs() {
			if u, err := url.Parse(raw); err == nil {
				raw = u.Redacted()
			}
			out = append(out, gin.H{"instance_number": i, "url": raw})
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "refresh_interval": a.refresh.Milliseconds()})
}

// listQueues handles GET /queues
func (a *API) listQueues(c *gin.Context) {
	qs, err := a.client.ListQueues(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": qs})
}

// listWorkers handles GET /workers
func (a *API) listWorkers(c *gin.Context) {
	ws, err := a.client.ListWorkers(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	if ws == nil {
		ws = []*rqmon.Worker{}
	}
	c.JSON(http.StatusOK, gin.H{"data": ws})
}

// workerInfo handles GET /workers/info
func (a *API) workerInfo(c *gin.Context) {
	id, ok := a.required(c, "worker_id")
	if !ok {
		return
	}
	w, err := a.client.FindWorker(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Info())
}

// listJobs handles GET /jobs
func (a *API) listJobs(c *gin.Context) {
	start, err := intParam(c, "start", 0)
	if err != nil {
		a.fail(c, err)
		return
	}
	length, err := intParam(c, "length", 10)
	if err != nil {
		a.fail(c, err)
		return
	}
	draw, err := intParam(c, "draw", 1)
	if err != nil {
		a.fail(c, err)
		return
	}
	sts, err := statuses(values(c, "jobstatus[]"))
	if err != nil {
		a.fail(c, err)
		return
	}
	page, err := a.client.ListJobs(c.Request.Context(), rqmon.JobQuery{
		Queues:   values(c, "queues[]"),
		Statuses: sts,
		Start:    start,
		Length:   length,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	rows := make([]rqmon.JobInfo, 0, len(page.Jobs))
	for _, j := range page.Jobs {
		rows = append(rows, j.Summary())
	}
	c.JSON(http.StatusOK, gin.H{
		"draw":            draw,
		"recordsTotal":    page.RecordsTotal,
		"recordsFiltered": page.RecordsFiltered,
		"data":            rows,
	})
}

// memory handles GET /redis/memory
func (a *API) memory(c *gin.Context) {
	pattern := value(c, "pattern")
	if pattern == "" {
		pattern = rqmon.DefaultMemoryPattern
	}
	n, err := a.client.StoreMemoryUsage(c.Request.Context(), pattern)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redis_memory": n, "pattern": pattern})
}

func (a *API) jobAction(c *gin.Context, verb string, fn func(*gin.Context, string) error) {
	id, ok := a.required(c, "job_id")
	if !ok {
		return
	}
	if err := fn(c, id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Successfully %s job %s", verb, id)})
}

// cancelJob handles POST /jobs/cancel
func (a *API) cancelJob(c *gin.Context) {
	a.jobAction(c, "canceled", func(c *gin.Context, id string) error { return a.client.CancelJob(c.Request.Context(), id) })
}

// deleteJob handles POST /jobs/delete
func (a *API) deleteJob(c *gin.Context) {
	a.jobAction(c, "deleted", func(c *gin.Context, id string) error { return a.client.DeleteJob(c.Request.Context(), id) })
}

// requeueJob handles POST /jobs/requeue
func (a *API) requeueJob(c *gin.Context) {
	a.jobAction(c, "requeued", func(c *gin.Context, id string) error { return a.client.RequeueJob(c.Request.Context(), id) })
}

// deleteAllJobs handles POST /jobs/delete/all
func (a *API) deleteAllJobs(c *gin.Context) {
	sts, err := statuses(values(c, "jobstatus[]"))
	if err != nil {
		a.fail(c, err)
		return
	}
	res, err := a.client.DeleteAllJobs(c.Request.Context(), values(c, "queues[]"), sts)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Deleted matching jobs", res))
}

// requeueAllFailed handles POST /jobs/requeue/all
func (a *API) requeueAllFailed(c *gin.Context) {
	res, err := a.client.RequeueAllFailed(c.Request.Context(), values(c, "queues[]"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Requeued failed jobs", res))
}

// cancelAllQueued handles POST /jobs/cancel/all
func (a *API) cancelAllQueued(c *gin.Context) {
	res, err := a.client.CancelAllQueued(c.Request.Context(), values(c, "queues[]"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Canceled queued jobs", res))
}

func (a *API) queueAction(c *gin.Context, verb string, fn func(*gin.Context, string) (int64, error)) {
	q, ok := a.required(c, "queue_id")
	if !ok {
		return
	}
	n, err := fn(c, q)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Successfully %s %s", verb, q), "removed": n})
}

// deleteQueue handles POST /queues/delete
func (a *API) deleteQueue(c *gin.Context) {
	a.queueAction(c, "deleted", func(c *gin.Context, q string) (int64, error) { return a.client.DeleteQueue(c.Request.Context(), q) })
}

// emptyQueue handles POST /queues/empty
func (a *API) emptyQueue(c *gin.Context) {
	a.queueAction(c, "emptied", func(c *gin.Context, q string) (int64, error) { return a.client.EmptyQueue(c.Request.Context(), q) })
}

// deleteAllQueues handles POST /queues/delete/all
func (a *API) deleteAllQueues(c *gin.Context) {
	res, err := a.client.DeleteAllQueues(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Deleted all queues", res))
}

// emptyAllQueues handles POST /queues/empty/all
func (a *API) emptyAllQueues(c *gin.Context) {
	res, err := a.client.EmptyAllQueues(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Emptied all queues", res))
}

// stopWorker handles POST /workers/delete
func (a *API) stopWorker(c *gin.Context) {
	id, ok := a.required(c, "worker_id")
	if !ok {
		return
	}
	if err := a.ctl.RequestStop(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Stop requested for worker %s", id)})
}

// stopAllWorkers handles POST /workers/delete/all
func (a *API) stopAllWorkers(c *gin.Context) {
	res, err := a.ctl.RequestStopAll(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkBody("Stop requested for all workers", res))
}
