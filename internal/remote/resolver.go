package remote

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHConfigResolver resolves hosts through layered ssh_config files. The first file
// that sets a keyword for the host wins, like ssh(1) does.
type SSHConfigResolver struct {
	configs []*ssh_config.Config
	user    string
	home    string
}

// DefaultConfigFiles returns the per-user and system ssh_config paths.
func DefaultConfigFiles() []string {
	var out []string
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".ssh", "config"))
	}
	return append(out, "/etc/ssh/ssh_config")
}

// NewSSHConfigResolver loads the given files in precedence order; with no files the
// defaults are used. Missing files are skipped.
func NewSSHConfigResolver(files ...string) (*SSHConfigResolver, error) {
	if len(files) == 0 {
		files = DefaultConfigFiles()
	}
	r := &SSHConfigResolver{user: currentUser()}
	r.home, _ = os.UserHomeDir()
	for _, path := range files {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cfg, err := ssh_config.Decode(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		r.configs = append(r.configs, cfg)
	}
	return r, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (r *SSHConfigResolver) lookup(alias, key string) string {
	for _, cfg := range r.configs {
		if v, err := cfg.Get(alias, key); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// Resolve implements Resolver. Without a matching entry the host is dialed as-is on
// port 22 as the current user.
func (r *SSHConfigResolver) Resolve(_ context.Context, hostname string) (Endpoint, error) {
	if hostname == "" {
		return Endpoint{}, errors.New("remote: empty hostname")
	}
	ep := Endpoint{
		Alias:        hostname,
		Host:         r.lookup(hostname, "HostName"),
		Port:         r.lookup(hostname, "Port"),
		User:         r.lookup(hostname, "User"),
		IdentityFile: r.expand(r.lookup(hostname, "IdentityFile")),
	}
	if ep.Host == "" {
		ep.Host = hostname
	}
	if ep.Port == "" {
		ep.Port = "22"
	}
	if ep.User == "" {
		ep.User = r.user
	}
	return ep, nil
}

func (r *SSHConfigResolver) expand(path string) string {
	if strings.HasPrefix(path, "~/") && r.home != "" {
		return filepath.Join(r.home, path[2:])
	}
	return path
}

func joinHostPort(host, port string) string { return net.JoinHostPort(host, port) }
