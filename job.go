package rqmon

import (
	"strconv"
	"time"
)

// TimeLayout is the timestamp format stored in job and worker hashes (UTC, microseconds).
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Job represents a unit of work. It is stored as a Redis HASH under rq:job:<id>.
type Job struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// FuncName is the dotted reference of the function the worker will call.
	FuncName string `json:"func_name"`
	// Description is a human readable call signature.
	Description string `json:"description,omitempty"`
	// Args and Kwargs are opaque encoded call arguments.
	Args   []byte `json:"args,omitempty"`
	Kwargs []byte `json:"kwargs,omitempty"`
	// Data is the worker-side serialized call, kept untouched.
	Data []byte `json:"data,omitempty"`
	// Status mirrors the container that holds the job id.
	Status Status `json:"status"`
	// Origin is the name of the queue the job was enqueued on.
	Origin string `json:"origin"`

	CreatedAt  time.Time `json:"created_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`

	// TTL, ResultTTL, FailureTTL and Timeout are in seconds; nil means unset.
	TTL        *int64 `json:"ttl,omitempty"`
	ResultTTL  *int64 `json:"result_ttl,omitempty"`
	FailureTTL *int64 `json:"failure_ttl,omitempty"`
	Timeout    *int64 `json:"timeout,omitempty"`

	DependencyID string `json:"dependency_id,omitempty"`
	// ExcInfo holds the serialized failure information, if any.
	ExcInfo string         `json:"exc_info,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// JobInfo is the flattened row shown by dashboards.
type JobInfo struct {
	ID          string `json:"job_id"`
	Func        string `json:"job_func"`
	Description string `json:"job_description"`
	ExcInfo     string `json:"job_exc_info"`
	Status      string `json:"job_status"`
	Queue       string `json:"job_queue"`
	CreatedAt   string `json:"job_created_at"`
	EnqueuedAt  string `json:"job_enqueued_at"`
	StartedAt   string `json:"job_started_at"`
	EndedAt     string `json:"job_ended_at"`
	TTL         string `json:"job_ttl"`
	Timeout     string `json:"job_timeout"`
	ResultTTL   string `json:"job_result_ttl"`
	FailureTTL  string `json:"job_fail_ttl"`
}

// Summary renders the job for listing, substituting the conventional defaults for unset TTLs.
func (j *Job) Summary() JobInfo {
	return JobInfo{
		ID:          j.ID,
		Func:        j.FuncName,
		Description: j.Description,
		ExcInfo:     j.ExcInfo,
		Status:      j.Status.String(),
		Queue:       j.Origin,
		CreatedAt:   formatTime(j.CreatedAt),
		EnqueuedAt:  formatTime(j.EnqueuedAt),
		StartedAt:   formatTime(j.StartedAt),
		EndedAt:     formatTime(j.EndedAt),
		TTL:         secondsOr(j.TTL, "Infinite"),
		Timeout:     secondsOr(j.Timeout, "Infinite"),
		ResultTTL:   secondsOr(j.ResultTTL, "500s"),
		FailureTTL:  secondsOr(j.FailureTTL, "1y"),
	}
}

func secondsOr(v *int64, def string) string {
	if v == nil {
		return def
	}
	return strconv.FormatInt(*v, 10) + "s"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseOptInt(s string) *int64 {
	if s == "" || s == "None" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// decodeJob builds a Job from its hash fields. Meta is decoded with enc; a malformed
// meta blob is dropped rather than failing the whole record.
func decodeJob(id string, h map[string]string, enc Encoder) *Job {
	j := &Job{
		ID:           id,
		FuncName:     h["func_name"],
		Description:  h["description"],
		Status:       Status(h["status"]),
		Origin:       h["origin"],
		CreatedAt:    parseTime(h["created_at"]),
		EnqueuedAt:   parseTime(h["enqueued_at"]),
		StartedAt:    parseTime(h["started_at"]),
		EndedAt:      parseTime(h["ended_at"]),
		TTL:          parseOptInt(h["ttl"]),
		ResultTTL:    parseOptInt(h["result_ttl"]),
		FailureTTL:   parseOptInt(h["failure_ttl"]),
		Timeout:      parseOptInt(h["timeout"]),
		DependencyID: h["dependency_id"],
		ExcInfo:      h["exc_info"],
	}
	if v, ok := h["args"]; ok && v != "" {
		j.Args = []byte(v)
	}
	if v, ok := h["kwargs"]; ok && v != "" {
		j.Kwargs = []byte(v)
	}
	if v, ok := h["data"]; ok && v != "" {
		j.Data = []byte(v)
	}
	if v := h["meta"]; v != "" {
		var m map[string]any
		if err := enc.Decode([]byte(v), &m); err == nil {
			j.Meta = m
		}
	}
	return j
}

// fields encodes the job into hash fields. Unset optional values are omitted.
func (j *Job) fields(enc Encoder) (map[string]any, error) {
	f := map[string]any{
		"func_name":   j.FuncName,
		"description": j.Description,
		"status":      j.Status.String(),
		"origin":      j.Origin,
		"created_at":  formatTime(j.CreatedAt),
	}
	if !j.EnqueuedAt.IsZero() {
		f["enqueued_at"] = formatTime(j.EnqueuedAt)
	}
	if len(j.Args) > 0 {
		f["args"] = j.Args
	}
	if len(j.Kwargs) > 0 {
		f["kwargs"] = j.Kwargs
	}
	if len(j.Data) > 0 {
		f["data"] = j.Data
	}
	for name, v := range map[string]*int64{"ttl": j.TTL, "result_ttl": j.ResultTTL, "failure_ttl": j.FailureTTL, "timeout": j.Timeout} {
		if v != nil {
			f[name] = *v
		}
	}
	if j.DependencyID != "" {
		f["dependency_id"] = j.DependencyID
	}
	if len(j.Meta) > 0 {
		b, err := enc.Encode(j.Meta)
		if err != nil {
			return nil, err
		}
		f["meta"] = b
	}
	return f, nil
}
