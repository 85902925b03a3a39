package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// fakeCommand is what the test server does for one exec request.
type fakeCommand func(cmd string) (stdout, stderr string, status uint32)

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return s
}

// startServer runs a minimal SSH server accepting clientKey that answers exec
// requests with run. It returns the endpoint and the host key.
func startServer(t *testing.T, clientKey ssh.PublicKey, run fakeCommand) (Endpoint, ssh.PublicKey) {
	t.Helper()
	hostKey := newSigner(t)
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, k ssh.PublicKey) (*ssh.Permissions, error) {
			if string(k.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, ssh.ErrNoAuth
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg, run)
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	return Endpoint{Alias: "worker", Host: host, Port: port, User: "deploy"}, hostKey.PublicKey()
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig, run fakeCommand) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				stdout, stderr, status := run(payload.Command)
				_, _ = ch.Write([]byte(stdout))
				_, _ = ch.Stderr().Write([]byte(stderr))
				st := make([]byte, 4)
				binary.BigEndian.PutUint32(st, status)
				_, _ = ch.SendRequest("exit-status", false, st)
				return
			}
		}()
	}
}

func TestSSHExecutor_Run(t *testing.T) {
	client := newSigner(t)
	seen := make(chan string, 4)
	ep, hostKey := startServer(t, client.PublicKey(), func(cmd string) (string, string, uint32) {
		seen <- cmd
		if strings.HasPrefix(cmd, "kill") {
			return "", "kill: (42) - Operation not permitted\n", 1
		}
		return "deploy\n", "", 0
	})
	e := NewSSHExecutor(WithSigners(client), WithHostKeyCallback(ssh.FixedHostKey(hostKey)), WithoutAgent(), WithTimeout(5*time.Second))
	ctx := context.Background()

	res, err := e.Run(ctx, ep, "ps -o user= -p 42")
	require.NoError(t, err)
	require.Equal(t, Result{ExitStatus: 0, Stdout: "deploy\n"}, res)

	res, err = e.Run(ctx, ep, "kill -INT 42")
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitStatus)
	require.Contains(t, res.Stderr, "not permitted")
	require.Equal(t, "ps -o user= -p 42", <-seen)
	require.Equal(t, "kill -INT 42", <-seen)
}

func TestSSHExecutor_RejectsUnknownHostKey(t *testing.T) {
	client := newSigner(t)
	ep, _ := startServer(t, client.PublicKey(), func(string) (string, string, uint32) { return "", "", 0 })
	other := newSigner(t)
	e := NewSSHExecutor(WithSigners(client), WithHostKeyCallback(ssh.FixedHostKey(other.PublicKey())), WithoutAgent())

	_, err := e.Run(context.Background(), ep, "true")
	require.Error(t, err)
	require.Contains(t, err.Error(), "handshake")
}

func TestSSHExecutor_AuthFailure(t *testing.T) {
	ep, hostKey := startServer(t, newSigner(t).PublicKey(), func(string) (string, string, uint32) { return "", "", 0 })
	e := NewSSHExecutor(WithSigners(newSigner(t)), WithHostKeyCallback(ssh.FixedHostKey(hostKey)), WithoutAgent())

	_, err := e.Run(context.Background(), ep, "true")
	require.Error(t, err)
}

func TestSSHExecutor_NoCredentials(t *testing.T) {
	e := NewSSHExecutor(WithHostKeyCallback(ssh.InsecureIgnoreHostKey()), WithoutAgent())
	_, err := e.Run(context.Background(), Endpoint{Host: "127.0.0.1", Port: "1"}, "true")
	require.ErrorContains(t, err, "no ssh credentials")
}

func TestSSHExecutor_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	host, port, _ := net.SplitHostPort(addr)

	e := NewSSHExecutor(WithSigners(newSigner(t)), WithHostKeyCallback(ssh.InsecureIgnoreHostKey()), WithoutAgent())
	_, err = e.Run(context.Background(), Endpoint{Host: host, Port: port, User: "u"}, "true")
	require.ErrorContains(t, err, "dial")
}

func TestSSHExecutor_MissingKnownHosts(t *testing.T) {
	e := NewSSHExecutor(WithSigners(newSigner(t)), WithKnownHosts(t.TempDir()+"/nope"), WithoutAgent())
	_, err := e.Run(context.Background(), Endpoint{Host: "127.0.0.1"}, "true")
	require.ErrorContains(t, err, "host keys")
}
