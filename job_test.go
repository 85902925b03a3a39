package rqmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJob_SummaryDefaults(t *testing.T) {
	j := &Job{ID: "1", FuncName: "f", Status: StatusQueued, Origin: "q"}
	s := j.Summary()
	require.Equal(t, "Infinite", s.TTL)
	require.Equal(t, "Infinite", s.Timeout)
	require.Equal(t, "500s", s.ResultTTL)
	require.Equal(t, "1y", s.FailureTTL)
	require.Equal(t, "", s.StartedAt)
	require.Equal(t, "queued", s.Status)
	require.Equal(t, "q", s.Queue)
}

func TestJob_SummaryValues(t *testing.T) {
	ttl, timeout := int64(60), int64(180)
	at := time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC)
	j := &Job{ID: "1", TTL: &ttl, Timeout: &timeout, CreatedAt: at}
	s := j.Summary()
	require.Equal(t, "60s", s.TTL)
	require.Equal(t, "180s", s.Timeout)
	require.Equal(t, "2024-01-02T03:04:05.600000Z", s.CreatedAt)
}

func TestJob_DecodeHash(t *testing.T) {
	h := map[string]string{
		"func_name":   "app.jobs.resize",
		"description": "app.jobs.resize(1)",
		"status":      "failed",
		"origin":      "images",
		"created_at":  "2024-01-02T03:04:05.000001Z",
		"ended_at":    "2024-01-02T03:05:00Z",
		"ttl":         "None",
		"result_ttl":  "500",
		"timeout":     "oops",
		"exc_info":    "Traceback",
		"meta":        `{"progress":50}`,
		"data":        "\x80\x04blob",
	}
	j := decodeJob("abc", h, &JSONEncoder{})
	require.Equal(t, "abc", j.ID)
	require.Equal(t, StatusFailed, j.Status)
	require.Equal(t, 1000, j.CreatedAt.Nanosecond())
	require.Equal(t, 5, j.EndedAt.Minute(), "RFC3339 accepted")
	require.Nil(t, j.TTL)
	require.Equal(t, int64(500), *j.ResultTTL)
	require.Nil(t, j.Timeout, "malformed ints dropped")
	require.Equal(t, float64(50), j.Meta["progress"])
	require.Equal(t, []byte("\x80\x04blob"), j.Data)
	require.True(t, j.StartedAt.IsZero())
}

func TestJob_DecodeBadMeta(t *testing.T) {
	j := decodeJob("x", map[string]string{"meta": "{not json"}, &JSONEncoder{})
	require.Nil(t, j.Meta)
}

func TestJob_FieldsOmitUnset(t *testing.T) {
	rt := int64(10)
	j := &Job{ID: "x", FuncName: "f", Status: StatusQueued, Origin: "q", ResultTTL: &rt, Meta: map[string]any{"a": 1}}
	f, err := j.fields(&JSONEncoder{})
	require.NoError(t, err)
	require.Equal(t, int64(10), f["result_ttl"])
	require.NotContains(t, f, "ttl")
	require.NotContains(t, f, "enqueued_at")
	require.NotContains(t, f, "args")
	require.JSONEq(t, `{"a":1}`, string(f["meta"].([]byte)))
}
