package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// VMChannel drives a long-lived local virtual machine (a Lima instance in
// development). The VM forwards its sshd to a dynamically assigned local
// port that changes across VM restarts, so the port is re-resolved on
// every call; caching it would break silently after a restart.
type VMChannel struct {
	instance string
	user     string
	keyPath  string
	logger   *slog.Logger

	// The limactl lookup, the dial, and the session run are function
	// fields so the resolve-then-maybe-redial flow can be tested without
	// a VM. Production values are set by NewVMChannel.
	resolvePort func(ctx context.Context) (int, error)
	dial        func(addr string) (sessionHost, error)
	run         func(ctx context.Context, host sessionHost, command string) (Result, error)

	mu     sync.Mutex
	client sessionHost
	port   int
}

var _ Channel = (*VMChannel)(nil)

// NewVMChannel configures a channel to the named VM instance.
func NewVMChannel(instance, user, keyPath string, logger *slog.Logger) *VMChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &VMChannel{instance: instance, user: user, keyPath: keyPath, logger: logger}
	c.resolvePort = c.lookupControlPort
	c.dial = func(addr string) (sessionHost, error) {
		return dialSSH(addr, user, keyPath)
	}
	c.run = runSession
	return c
}

// Exec resolves the VM's current control port, then runs the command.
func (c *VMChannel) Exec(ctx context.Context, command string, opts ExecOptions) (Result, error) {
	full := composeCommand(command, opts)

	port, err := c.resolvePort(ctx)
	if err != nil {
		return Result{}, &ExecutionError{Command: full, Err: err}
	}

	client, err := c.ensureClient(port)
	if err != nil {
		return Result{}, &ExecutionError{Command: full, Err: err}
	}

	result, err := c.run(ctx, client, full)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Err != nil {
			c.logger.Warn("vm transport failure, dropping connection", "instance", c.instance, "error", err)
			c.reset(client)
		}
		return result, err
	}
	return result, nil
}

// Close tears down the connection if one is open.
func (c *VMChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.port = 0
	return err
}

type limaInstance struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	SSHLocalPort int    `json:"sshLocalPort"`
}

// lookupControlPort asks limactl for the instance's current ssh port.
func (c *VMChannel) lookupControlPort(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "limactl", "list", c.instance, "--format", "json").Output()
	if err != nil {
		return 0, fmt.Errorf("resolve vm control port: %w", err)
	}
	// limactl emits one JSON object per line.
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var inst limaInstance
		if err := json.Unmarshal([]byte(line), &inst); err != nil {
			return 0, fmt.Errorf("parse limactl output: %w", err)
		}
		if inst.Name != c.instance {
			continue
		}
		if !strings.EqualFold(inst.Status, "Running") {
			return 0, fmt.Errorf("vm instance %q is %s, not running", c.instance, inst.Status)
		}
		if inst.SSHLocalPort <= 0 {
			return 0, fmt.Errorf("vm instance %q has no ssh port assigned", c.instance)
		}
		return inst.SSHLocalPort, nil
	}
	return 0, fmt.Errorf("vm instance %q not found", c.instance)
}

// ensureClient returns a client connected to the given port, redialing
// when the port moved since the last call.
func (c *VMChannel) ensureClient(port int) (sessionHost, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.port == port {
		return c.client, nil
	}
	if c.client != nil {
		c.logger.Info("vm control port changed, reconnecting", "instance", c.instance, "old_port", c.port, "new_port", port)
		c.client.Close()
		c.client = nil
	}
	client, err := c.dial(fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	c.client = client
	c.port = port
	return client, nil
}

func (c *VMChannel) reset(old sessionHost) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == old {
		c.client.Close()
		c.client = nil
		c.port = 0
	}
}
