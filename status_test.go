package rqmon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_StringAndParse(t *testing.T) {
	require.Equal(t, "queued", StatusQueued.String())
	require.Equal(t, "scheduled", StatusScheduled.String())

	for _, s := range []string{"queued", "started", "finished", "failed", "deferred", "scheduled"} {
		st, err := ParseStatus(s)
		require.NoError(t, err, s)
		require.Equal(t, s, st.String())
	}

	_, err := ParseStatus("weird")
	require.ErrorIs(t, err, ErrRegistryNotFound)
	require.ErrorIs(t, err, ErrNotFound)

	// canceled is a job status but not a container
	_, err = ParseStatus("canceled")
	require.ErrorIs(t, err, ErrRegistryNotFound)
}

func TestStatus_Key(t *testing.T) {
	cases := map[Status]string{
		StatusQueued:    "rq:queue:q",
		StatusStarted:   "rq:wip:q",
		StatusFinished:  "rq:finished:q",
		StatusFailed:    "rq:failed:q",
		StatusDeferred:  "rq:deferred:q",
		StatusScheduled: "rq:scheduled:q",
	}
	for st, want := range cases {
		got, err := st.Key("q")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := StatusCanceled.Key("q")
	require.ErrorIs(t, err, ErrRegistryNotFound)

	require.True(t, StatusQueued.IsWaitingList())
	require.False(t, StatusFailed.IsWaitingList())
	require.Len(t, AllStatuses, 6)
}
