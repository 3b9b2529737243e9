package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/ssh"
)

// SSHChannel drives a persistent secure shell to a dedicated host. The
// connection is established lazily and re-established after transport
// failures; commands from concurrent pods share one client.
type SSHChannel struct {
	addr    string
	user    string
	keyPath string
	logger  *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

var _ Channel = (*SSHChannel)(nil)

// NewSSHChannel configures a channel to host:port. No connection is made
// until the first Exec.
func NewSSHChannel(host string, port int, user, keyPath string, logger *slog.Logger) *SSHChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHChannel{
		addr:    fmt.Sprintf("%s:%d", host, port),
		user:    user,
		keyPath: keyPath,
		logger:  logger,
	}
}

// Exec runs a command on the host, optionally inside a container.
func (c *SSHChannel) Exec(ctx context.Context, command string, opts ExecOptions) (Result, error) {
	full := composeCommand(command, opts)

	client, err := c.ensureClient()
	if err != nil {
		return Result{}, &ExecutionError{Command: full, Err: err}
	}

	result, err := runSession(ctx, client, full)
	if err != nil {
		// Non-zero exits keep the connection; transport errors drop it so
		// the next call redials.
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Err != nil {
			c.logger.Warn("ssh transport failure, dropping connection", "addr", c.addr, "error", err)
			c.reset(client)
		}
		return result, err
	}
	return result, nil
}

// Close tears down the connection if one is open.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *SSHChannel) ensureClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := dialSSH(c.addr, c.user, c.keyPath)
	if err != nil {
		return nil, err
	}
	c.logger.Info("ssh connection established", "addr", c.addr, "user", c.user)
	c.client = client
	return client, nil
}

func (c *SSHChannel) reset(old *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == old {
		c.client.Close()
		c.client = nil
	}
}
