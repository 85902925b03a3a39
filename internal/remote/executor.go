package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHExecutor runs commands over golang.org/x/crypto/ssh. Authentication uses the
// configured signers, the endpoint identity file and the running ssh-agent, in
// that order.
type SSHExecutor struct {
	signers    []ssh.Signer
	hostKey    ssh.HostKeyCallback
	knownHosts string
	timeout    time.Duration
	useAgent   bool
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

// ExecutorOption configures an SSHExecutor.
type ExecutorOption func(*SSHExecutor)

// WithSigners adds static keys tried before any other method.
func WithSigners(s ...ssh.Signer) ExecutorOption {
	return func(e *SSHExecutor) { e.signers = append(e.signers, s...) }
}

// WithHostKeyCallback overrides known_hosts verification.
func WithHostKeyCallback(cb ssh.HostKeyCallback) ExecutorOption {
	return func(e *SSHExecutor) { e.hostKey = cb }
}

// WithKnownHosts sets the known_hosts file used for host key verification.
func WithKnownHosts(path string) ExecutorOption {
	return func(e *SSHExecutor) {
		if path != "" {
			e.knownHosts = path
		}
	}
}

// WithTimeout bounds dialing and the handshake.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *SSHExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithoutAgent disables ssh-agent authentication.
func WithoutAgent() ExecutorOption {
	return func(e *SSHExecutor) { e.useAgent = false }
}

// NewSSHExecutor builds an executor. Host keys are checked against
// ~/.ssh/known_hosts unless configured otherwise.
func NewSSHExecutor(opts ...ExecutorOption) *SSHExecutor {
	e := &SSHExecutor{timeout: 10 * time.Second, useAgent: true}
	if home, err := os.UserHomeDir(); err == nil {
		e.knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	for _, opt := range opts {
		opt(e)
	}
	d := &net.Dialer{Timeout: e.timeout}
	e.dial = d.DialContext
	return e
}

func (e *SSHExecutor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.hostKey != nil {
		return e.hostKey, nil
	}
	if e.knownHosts == "" {
		return nil, errors.New("remote: no known_hosts file configured")
	}
	return knownhosts.New(e.knownHosts)
}

func (e *SSHExecutor) authMethods(ep Endpoint) ([]ssh.AuthMethod, func()) {
	signers := append([]ssh.Signer(nil), e.signers...)
	if ep.IdentityFile != "" {
		if pem, err := os.ReadFile(ep.IdentityFile); err == nil {
			if s, err := ssh.ParsePrivateKey(pem); err == nil {
				signers = append(signers, s)
			}
		}
	}
	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	closer := func() {}
	if sock := os.Getenv("SSH_AUTH_SOCK"); e.useAgent && sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closer = func() { _ = conn.Close() }
		}
	}
	return methods, closer
}

// Run implements Executor.
func (e *SSHExecutor) Run(ctx context.Context, ep Endpoint, cmd string) (Result, error) {
	hostKey, err := e.hostKeyCallback()
	if err != nil {
		return Result{}, fmt.Errorf("remote: host keys: %w", err)
	}
	auth, closeAgent := e.authMethods(ep)
	defer closeAgent()
	if len(auth) == 0 {
		return Result{}, errors.New("remote: no ssh credentials available")
	}
	cfg := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         e.timeout,
	}

	addr := ep.Addr()
	conn, err := e.dial(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	// Closing the transport is the only way to interrupt a running session.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if e.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(e.timeout))
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return Result{}, ctxErr(ctx, fmt.Errorf("remote: handshake %s: %w", addr, err))
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(cc, chans, reqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return Result{}, ctxErr(ctx, fmt.Errorf("remote: session %s: %w", addr, err))
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	err = sess.Run(cmd)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	default:
		return res, ctxErr(ctx, fmt.Errorf("remote: run on %s: %w", addr, err))
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}
