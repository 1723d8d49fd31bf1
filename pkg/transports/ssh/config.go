package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Auth selects how the fetcher authenticates to the configuration host.
type Auth string

const (
	AuthPassword Auth = "password"
	AuthKey      Auth = "key"
	// AuthAgent signs with the keys held by the agent on SSH_AUTH_SOCK.
	AuthAgent Auth = "agent"
)

// defaultKeys are tried in order when key authentication names no key file.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// HostConfig describes the host that serves the partition database files.
type HostConfig struct {
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"min=1,max=65535"`
	User string `json:"user" validate:"required"`

	Auth          Auth   `json:"auth" validate:"oneof=password key agent"`
	Password      string `json:"-"`
	KeyFile       string `json:"key_file,omitempty"`
	KeyPassphrase string `json:"-"`

	// KnownHosts is consulted unless InsecureHostKey is set.
	KnownHosts      string `json:"known_hosts,omitempty"`
	InsecureHostKey bool   `json:"insecure_host_key"`

	DialTimeout time.Duration `json:"dial_timeout"`
}

// NewHostConfig returns key-authenticated settings for user@host on port 22
// that verify the host key against ~/.ssh/known_hosts.
func NewHostConfig(host, user string) *HostConfig {
	return &HostConfig{
		Host:        host,
		Port:        22,
		User:        user,
		Auth:        AuthKey,
		KnownHosts:  filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		DialTimeout: 30 * time.Second,
	}
}

// Validate checks the settings and fills in a default key file for key
// authentication.
func (c *HostConfig) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("configuration host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return fmt.Errorf("user is required")
	case c.DialTimeout <= 0:
		return fmt.Errorf("dial timeout must be positive")
	}

	switch c.Auth {
	case AuthPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthKey:
		if c.KeyFile == "" {
			c.KeyFile = findKey(filepath.Join(os.Getenv("HOME"), ".ssh"))
		}
		if c.KeyFile == "" {
			return fmt.Errorf("no key file given and none found in ~/.ssh")
		}
		if _, err := os.Stat(c.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("key file not found: %s", c.KeyFile)
		}
	case AuthAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return fmt.Errorf("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported authentication: %s", c.Auth)
	}
	return nil
}

func findKey(dir string) string {
	for _, name := range defaultKeys {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// clientConfig returns the ssh client settings. The closer releases the agent
// connection opened for AuthAgent.
func (c *HostConfig) clientConfig() (*ssh.ClientConfig, func() error, error) {
	closer := func() error { return nil }

	var methods []ssh.AuthMethod
	switch c.Auth {
	case AuthPassword:
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		methods = []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}

	case AuthKey:
		signer, err := c.signer()
		if err != nil {
			return nil, nil, err
		}
		methods = []ssh.AuthMethod{ssh.PublicKeys(signer)}

	case AuthAgent:
		conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reach ssh agent: %w", err)
		}
		methods = []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}
		closer = conn.Close

	default:
		return nil, nil, fmt.Errorf("unsupported authentication: %s", c.Auth)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !c.InsecureHostKey && c.KnownHosts != "" {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("failed to load %s: %w", c.KnownHosts, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, closer, nil
}

func (c *HostConfig) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var s ssh.Signer
	if c.KeyPassphrase != "" {
		s, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
	} else {
		s, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", c.KeyFile, err)
	}
	return s, nil
}

// Addr is host:port.
func (c *HostConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
