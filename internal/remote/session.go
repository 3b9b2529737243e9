package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// sessionHost is the part of *ssh.Client the channels hold on to. It is
// an interface so channel behavior (port re-resolution, redials) can be
// exercised without a live SSH endpoint.
type sessionHost interface {
	NewSession() (*ssh.Session, error)
	Close() error
}

// runSession executes one command on an established SSH client. The
// session is torn down when ctx is cancelled so a stuck remote command
// cannot hang the caller.
func runSession(ctx context.Context, client sessionHost, command string) (Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return Result{}, &ExecutionError{Command: command, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return Result{}, &ExecutionError{Command: command, Err: ctx.Err()}
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return result, &ExecutionError{Command: command, ExitCode: exitErr.ExitStatus(), Stderr: result.Stderr}
		}
		return result, &ExecutionError{Command: command, Err: err}
	}
	return result, nil
}

// dialSSH establishes an SSH client using public key auth.
func dialSSH(addr, user, keyPath string) (*ssh.Client, error) {
	if keyPath == "" {
		return nil, errors.New("ssh key path not configured")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Hosts are provisioned by us and keys rotate with the fleet;
		// pinning happens at provisioning time, not per dial.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}
