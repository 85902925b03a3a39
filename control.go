package rqmon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/UniQw/rqmon/internal/remote"
)

// Endpoint holds the connection parameters of a remote worker host.
type Endpoint = remote.Endpoint

// ExecResult is the outcome of a remote command that ran to completion.
type ExecResult = remote.Result

// Signaler delivers a signal to a local process.
type Signaler interface {
	Signal(pid int, sig os.Signal) error
}

// HostResolver turns a worker hostname into connection parameters.
type HostResolver interface {
	Resolve(ctx context.Context, hostname string) (Endpoint, error)
}

// RemoteExecutor runs a shell command on a remote host. A nil error means the
// command ran; its exit status is in the result.
type RemoteExecutor interface {
	Run(ctx context.Context, ep Endpoint, cmd string) (ExecResult, error)
}

type processSignaler struct{}

// Signal implements Signaler with os.Process.
func (processSignaler) Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	err = p.Signal(sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	case errors.Is(err, os.ErrPermission):
		return &PermissionDeniedError{PID: pid}
	default:
		return err
	}
}

// Controller requests graceful stops of workers. It reports whether a request was
// delivered, never whether the worker actually stopped.
type Controller struct {
	client     *Client
	signaler   Signaler
	resolver   HostResolver
	executor   RemoteExecutor
	localHosts map[string]bool
	log        Logger

	initOnce sync.Once
	initErr  error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSignaler replaces local signal delivery.
func WithSignaler(s Signaler) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.signaler = s
		}
	}
}

// WithHostResolver replaces the ssh_config based host lookup.
func WithHostResolver(r HostResolver) ControllerOption {
	return func(c *Controller) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithRemoteExecutor replaces the SSH transport.
func WithRemoteExecutor(e RemoteExecutor) ControllerOption {
	return func(c *Controller) {
		if e != nil {
			c.executor = e
		}
	}
}

// WithLocalHostnames sets the hostnames treated as this machine. Defaults to
// os.Hostname and localhost.
func WithLocalHostnames(names ...string) ControllerOption {
	return func(c *Controller) {
		c.localHosts = map[string]bool{}
		for _, n := range names {
			c.localHosts[normalizeHost(n)] = true
		}
	}
}

// WithControllerLogger sets the controller logger; it defaults to the client's.
func WithControllerLogger(l Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// NewController builds a controller over client. Remote hosts are resolved through
// ~/.ssh/config and /etc/ssh/ssh_config and reached over SSH unless overridden.
func NewController(client *Client, opts ...ControllerOption) *Controller {
	c := &Controller{client: client, signaler: processSignaler{}, log: client.log}
	for _, opt := range opts {
		opt(c)
	}
	if c.localHosts == nil {
		c.localHosts = map[string]bool{"localhost": true}
		if h, err := os.Hostname(); err == nil {
			c.localHosts[normalizeHost(h)] = true
		}
	}
	return c
}

func normalizeHost(h string) string { return strings.TrimSuffix(strings.ToLower(h), ".") }

// IsLocal reports whether hostname names this machine.
func (c *Controller) IsLocal(hostname string) bool { return c.localHosts[normalizeHost(hostname)] }

func (c *Controller) remote() error {
	c.initOnce.Do(func() {
		if c.resolver == nil {
			r, err := remote.NewSSHConfigResolver()
			if err != nil {
				c.initErr = err
				return
			}
			c.resolver = r
		}
		if c.executor == nil {
			c.executor = remote.NewSSHExecutor()
		}
	})
	return c.initErr
}

// RequestStop asks a worker to stop gracefully (SIGINT). Local workers are signalled
// directly; remote ones over SSH after checking the process owner. A worker whose
// process no longer exists yields ErrProcessGone.
func (c *Controller) RequestStop(ctx context.Context, workerID string) error {
	w, err := c.client.FindWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if w.PID <= 0 {
		return fmt.Errorf("%w: worker %s has no pid", ErrInvalidRequest, w.Name)
	}
	if c.IsLocal(w.Hostname) {
		err = c.stopLocal(w)
	} else {
		err = c.stopRemote(ctx, w)
	}
	switch {
	case err == nil:
		c.log.Infof("stop: requested id=%s host=%s pid=%d", w.Name, w.Hostname, w.PID)
	case errors.Is(err, ErrProcessGone):
		c.log.Warnf("stop: worker gone id=%s host=%s pid=%d", w.Name, w.Hostname, w.PID)
	default:
		c.log.Errorf("stop: failed id=%s host=%s pid=%d err=%v", w.Name, w.Hostname, w.PID, err)
	}
	return err
}

func (c *Controller) stopLocal(w *Worker) error {
	err := c.signaler.Signal(w.PID, syscall.SIGINT)
	var pd *PermissionDeniedError
	if errors.As(err, &pd) && pd.Host == "" {
		pd.Host = w.Hostname
	}
	return err
}

func (c *Controller) stopRemote(ctx context.Context, w *Worker) error {
	fail := func(res ExecResult, err error) error {
		return &RemoteControlFailedError{Host: w.Hostname, PID: w.PID, ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}
	if err := c.remote(); err != nil {
		return fail(ExecResult{}, err)
	}
	ep, err := c.resolver.Resolve(ctx, w.Hostname)
	if err != nil {
		return fail(ExecResult{}, err)
	}
	pid := strconv.Itoa(w.PID)

	res, err := c.executor.Run(ctx, ep, "ps -o user= -p "+pid)
	if err != nil {
		return fail(res, err)
	}
	owner := strings.TrimSpace(res.Stdout)
	// ps exits 1 with no output when no process matches; anything else is a
	// failure of the remote side, not evidence the worker is gone.
	if res.ExitStatus == 1 && owner == "" && strings.TrimSpace(res.Stderr) == "" {
		return fmt.Errorf("%w: pid %d on %s", ErrProcessGone, w.PID, w.Hostname)
	}
	if res.ExitStatus != 0 || owner == "" {
		return fail(res, nil)
	}
	if ep.User != "root" && owner != ep.User {
		return &PermissionDeniedError{Host: w.Hostname, PID: w.PID, Owner: owner}
	}

	res, err = c.executor.Run(ctx, ep, "kill -s INT "+pid)
	if err != nil {
		return fail(res, err)
	}
	if res.ExitStatus == 0 {
		return nil
	}
	switch stderr := strings.ToLower(res.Stderr); {
	case strings.Contains(stderr, "not permitted"):
		return &PermissionDeniedError{Host: w.Hostname, PID: w.PID, Owner: owner}
	case strings.Contains(stderr, "no such process"):
		return fmt.Errorf("%w: pid %d on %s", ErrProcessGone, w.PID, w.Hostname)
	default:
		return fail(res, nil)
	}
}

// RequestStopMany requests a stop of every worker independently. Applied counts the
// delivered requests; every other worker is listed in Failures.
func (c *Controller) RequestStopMany(ctx context.Context, workerIDs []string) BulkResult {
	var res BulkResult
	for _, id := range workerIDs {
		if err := c.RequestStop(ctx, id); err != nil {
			res.fail(id, err)
			continue
		}
		res.Applied++
	}
	return res
}

// RequestStopAll requests a stop of every registered worker.
func (c *Controller) RequestStopAll(ctx context.Context) (BulkResult, error) {
	workers, err := c.client.ListWorkers(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	ids := make([]string, 0, len(workers))
	for _, w := range workers {
		ids = append(ids, w.Name)
	}
	return c.RequestStopMany(ctx, ids), nil
}
