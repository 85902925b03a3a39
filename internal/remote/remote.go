// Package remote runs shell commands on the host of a remote worker over SSH.
package remote

import (
	"context"
)

// Endpoint holds the connection parameters resolved for a worker host.
type Endpoint struct {
	// Alias is the hostname the worker registered with.
	Alias string
	// Host is the effective address to dial.
	Host         string
	Port         string
	User         string
	IdentityFile string
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == "" {
		port = "22"
	}
	return joinHostPort(e.Host, port)
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Resolver turns a worker hostname into connection parameters.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (Endpoint, error)
}

// Executor runs one command on an endpoint. A non-nil error means the command did
// not run to completion (dial, auth, session or cancellation failure); a command that
// exited non-zero is reported through Result.
type Executor interface {
	Run(ctx context.Context, ep Endpoint, cmd string) (Result, error)
}
