package rqmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptions_Setters(t *testing.T) {
	var o options

	JobID("id-1")(&o)
	require.Equal(t, "id-1", o.id, "JobID not set")

	Description("send(1)")(&o)
	require.Equal(t, "send(1)", o.description)

	TTL(90 * time.Second)(&o)
	require.NotNil(t, o.ttl)
	require.Equal(t, int64(90), *o.ttl)

	ResultTTL(5 * time.Minute)(&o)
	require.Equal(t, int64(300), *o.resultTTL)

	FailureTTL(-1 * time.Second)(&o)
	require.Equal(t, int64(-1), *o.failureTTL, "negative keeps forever")

	Timeout(3 * time.Second)(&o)
	require.Equal(t, int64(3), *o.timeout)

	DependsOn("parent")(&o)
	require.Equal(t, "parent", o.dependsOn)

	Meta(map[string]any{"k": "v"})(&o)
	require.Equal(t, "v", o.meta["k"])

	AtFront()(&o)
	require.True(t, o.atFront)
}

func TestClientOptions_IgnoreNil(t *testing.T) {
	c := NewClient(nil, WithLogger(nil), WithEncoder(nil), WithClock(nil))
	require.NotNil(t, c.log)
	require.NotNil(t, c.encoder)
	require.NotNil(t, c.now)
}
