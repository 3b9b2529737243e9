package remote

import (
	"context"
	"fmt"
	"strings"
)

// ExecOptions controls how a command is run on the remote side.
type ExecOptions struct {
	// Sudo runs the composed command as root.
	Sudo bool
	// Container wraps the command so it executes inside the named
	// container instead of on the host directly.
	Container string
}

// Result carries the output of a completed command.
type Result struct {
	Stdout string
	Stderr string
}

// Channel runs commands on a remote host. Implementations exist for a
// local virtual machine and for an SSH-reachable dedicated host; callers
// never branch on which one they hold.
type Channel interface {
	Exec(ctx context.Context, command string, opts ExecOptions) (Result, error)
}

// ExecutionError reports a non-zero exit or a transport failure, keeping
// the failing command for context.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote exec %q: %v", e.Command, e.Err)
	}
	msg := fmt.Sprintf("remote exec %q: exit status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ShellQuote single-quotes s for a POSIX shell. Embedded single quotes are
// closed, escaped, and reopened, so arbitrary content survives one level
// of wrapping. Shell metacharacters do NOT survive as metacharacters.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// JoinArgs renders an argv list as a single quoted shell command. Only
// literal arguments are guaranteed to round-trip.
func JoinArgs(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		quoted = append(quoted, ShellQuote(a))
	}
	return strings.Join(quoted, " ")
}

// composeCommand applies container scoping and sudo. Container scoping
// wraps the user command in a `docker exec ... sh -lc '<command>'`
// invocation with single-quote-safe escaping of the inner command.
func composeCommand(command string, opts ExecOptions) string {
	cmd := command
	if opts.Container != "" {
		cmd = fmt.Sprintf("docker exec %s sh -lc %s", opts.Container, ShellQuote(command))
	}
	if opts.Sudo {
		cmd = "sudo " + cmd
	}
	return cmd
}
