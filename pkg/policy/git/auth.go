package git

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/packlimit/pkg/config"
)

// Credentials supplies transport auth for the policy repository.
type Credentials interface {
	// Method returns the auth for a clone or fetch. nil means anonymous.
	Method() (transport.AuthMethod, error)

	// Kind is logged with clone and pull events.
	Kind() string
}

// NewCredentials builds the credentials selected by cfg.Type and checks that
// they can be used with the repository URL: token auth needs an http(s)
// remote and ssh auth an ssh remote. An empty remote skips the check.
func NewCredentials(cfg config.GitAuthConfig, remote string) (Credentials, error) {
	protocol := ""
	if remote != "" {
		ep, err := transport.NewEndpoint(remote)
		if err != nil {
			return nil, fmt.Errorf("invalid repository url: %w", err)
		}
		protocol = ep.Protocol
	}

	switch cfg.Type {
	case "", "none":
		return anonymous{}, nil

	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		if protocol != "" && protocol != "http" && protocol != "https" {
			return nil, fmt.Errorf("token auth needs an http(s) repository, got %s", protocol)
		}
		return tokenCredentials{&http.BasicAuth{Username: "git", Password: cfg.Token}}, nil

	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		if protocol != "" && protocol != "ssh" {
			return nil, fmt.Errorf("ssh auth needs an ssh repository, got %s", protocol)
		}
		return &sshKeyCredentials{path: cfg.SSHKeyPath, passphrase: cfg.SSHKeyPassphrase}, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

type anonymous struct{}

func (anonymous) Method() (transport.AuthMethod, error) { return nil, nil }
func (anonymous) Kind() string                          { return "none" }

// tokenCredentials sends the token as the basic auth password. Hosting
// services ignore the username.
type tokenCredentials struct {
	auth *http.BasicAuth
}

func (c tokenCredentials) Method() (transport.AuthMethod, error) { return c.auth, nil }
func (tokenCredentials) Kind() string                            { return "token" }

// sshKeyCredentials reads the private key on first use and reuses it for
// every later poll. A failed read is retried on the next call.
type sshKeyCredentials struct {
	path       string
	passphrase string

	mu   sync.Mutex
	keys *ssh.PublicKeys
}

func (c *sshKeyCredentials) Method() (transport.AuthMethod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys != nil {
		return c.keys, nil
	}

	if err := checkKeyFile(c.path); err != nil {
		return nil, err
	}
	keys, err := ssh.NewPublicKeysFromFile("git", c.path, c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	c.keys = keys
	return keys, nil
}

func (*sshKeyCredentials) Kind() string { return "ssh" }

// checkKeyFile rejects keys readable by group or others.
func checkKeyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access SSH key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("SSH key file %s permissions too open (%04o), should be 0600", path, perm)
	}
	return nil
}
