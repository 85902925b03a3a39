package rqmon

import (
	"context"
	"errors"
	"testing"

	ikeys "github.com/UniQw/rqmon/internal/keys"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// interceptingClient wraps a real redis.Client and can inject failures for specific commands.
type interceptingClient struct {
	*redis.Client
	// failScriptKey fails every script whose first key matches.
	failScriptKey string
	failTx        bool
}

func (ic *interceptingClient) scriptErr(ctx context.Context, keys []string) *redis.Cmd {
	if ic.failScriptKey != "" && len(keys) > 0 && keys[0] == ic.failScriptKey {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(errors.New("script failure (injected)"))
		return cmd
	}
	return nil
}

func (ic *interceptingClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	if cmd := ic.scriptErr(ctx, keys); cmd != nil {
		return cmd
	}
	return ic.Client.EvalSha(ctx, sha1, keys, args...)
}

func (ic *interceptingClient) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if cmd := ic.scriptErr(ctx, keys); cmd != nil {
		return cmd
	}
	return ic.Client.Eval(ctx, script, keys, args...)
}

func (ic *interceptingClient) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if ic.failTx {
		// queue the commands but never send them
		if err := fn(ic.Client.TxPipeline()); err != nil {
			return nil, err
		}
		return nil, errors.New("pipeline failure (injected)")
	}
	return ic.Client.TxPipelined(ctx, fn)
}

func newInterceptingClient(t *testing.T) (*interceptingClient, func()) {
	t.Helper()
	s := mrd.RunT(t)
	base := redis.NewClient(&redis.Options{Addr: s.Addr()})
	ic := &interceptingClient{Client: base}
	cleanup := func() { _ = base.Close(); s.Close() }
	return ic, cleanup
}

func TestClient_EmptyQueue_ActionFailed(t *testing.T) {
	ic, done := newInterceptingClient(t)
	defer done()
	c := NewClient(ic)
	ctx := context.Background()
	enqueueN(t, c, "q-fail", 2)

	ic.failScriptKey = ikeys.Queue("q-fail")
	_, err := c.EmptyQueue(ctx, "q-fail")
	require.ErrorIs(t, err, ErrActionFailed)
	_, err = c.DeleteQueue(ctx, "q-fail")
	require.ErrorIs(t, err, ErrActionFailed)
	require.Equal(t, int64(2), ic.LLen(ctx, ikeys.Queue("q-fail")).Val(), "nothing removed")
}

func TestClient_EmptyRegistry_ActionFailed(t *testing.T) {
	ic, done := newInterceptingClient(t)
	defer done()
	c := NewClient(ic)
	ctx := context.Background()

	ic.failScriptKey = ikeys.Failed("q")
	_, err := c.EmptyRegistry(ctx, StatusFailed, "q")
	require.ErrorIs(t, err, ErrActionFailed)
}

func TestClient_DeleteJob_ActionFailed(t *testing.T) {
	ic, done := newInterceptingClient(t)
	defer done()
	c := NewClient(ic)
	ctx := context.Background()
	ids := enqueueN(t, c, "q", 1)

	ic.failTx = true
	require.ErrorIs(t, c.DeleteJob(ctx, ids[0]), ErrActionFailed)
	ic.failTx = false
	require.Equal(t, int64(1), ic.Exists(ctx, ikeys.Job(ids[0])).Val())
}

func TestClient_DeleteAllJobs_ContinuesPastFailingPair(t *testing.T) {
	ic, done := newInterceptingClient(t)
	defer done()
	c := NewClient(ic)
	ctx := context.Background()
	enqueueN(t, c, "a", 3)
	enqueueN(t, c, "b", 4)
	startAndFail(t, ic, "b")

	ic.failScriptKey = ikeys.Queue("a")
	res, err := c.DeleteAllJobs(ctx, []string{"a", "b"}, []Status{StatusQueued, StatusFailed})
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Applied, "3 queued + 1 failed from b")
	require.Equal(t, 1, res.FailureCount())
	require.Equal(t, "a/queued", res.Failures[0].Item)
	require.ErrorIs(t, res.Err("delete all jobs"), ErrActionFailed)

	require.Equal(t, int64(3), ic.LLen(ctx, ikeys.Queue("a")).Val())
	require.Zero(t, ic.LLen(ctx, ikeys.Queue("b")).Val())
	require.Zero(t, ic.ZCard(ctx, ikeys.Failed("b")).Val())
}
