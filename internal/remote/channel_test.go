package remote

import (
	"errors"
	"strings"
	"testing"
)

func TestShellQuotePreservesSingleQuotes(t *testing.T) {
	in := "echo 'hello world'"
	got := ShellQuote(in)
	want := `'echo '\''hello world'\'''`
	if got != want {
		t.Fatalf("ShellQuote(%q) = %q, want %q", in, got, want)
	}
}

func TestJoinArgsQuotesEveryArgument(t *testing.T) {
	got := JoinArgs([]string{"code-server", "--bind-addr", "0.0.0.0:8726", "/work space"})
	if !strings.Contains(got, "'/work space'") {
		t.Fatalf("argument with space not quoted: %q", got)
	}
	if strings.Count(got, "'") < 8 {
		t.Fatalf("expected every argument quoted: %q", got)
	}
}

func TestComposeCommandContainerScope(t *testing.T) {
	got := composeCommand("rc-service code-server start", ExecOptions{Container: "pod-abc"})
	want := `docker exec pod-abc sh -lc 'rc-service code-server start'`
	if got != want {
		t.Fatalf("composeCommand = %q, want %q", got, want)
	}
}

func TestComposeCommandSudoWrapsOutermost(t *testing.T) {
	got := composeCommand("ls", ExecOptions{Sudo: true, Container: "pod-abc"})
	if !strings.HasPrefix(got, "sudo docker exec pod-abc") {
		t.Fatalf("sudo must wrap the container exec: %q", got)
	}
}

func TestComposeCommandEscapesInnerQuotes(t *testing.T) {
	inner := `sh -c 'echo hi'`
	got := composeCommand(inner, ExecOptions{Container: "c1"})
	// The inner single quotes must be escaped, not terminate the wrapper.
	if !strings.Contains(got, `'\''`) {
		t.Fatalf("inner quotes not escaped: %q", got)
	}
}

func TestComposeCommandPlain(t *testing.T) {
	if got := composeCommand("uptime", ExecOptions{}); got != "uptime" {
		t.Fatalf("plain command altered: %q", got)
	}
}

func TestExecutionErrorFormatting(t *testing.T) {
	exitErr := &ExecutionError{Command: "false", ExitCode: 1, Stderr: "boom"}
	if msg := exitErr.Error(); !strings.Contains(msg, "exit status 1") || !strings.Contains(msg, "boom") {
		t.Fatalf("unexpected message: %q", msg)
	}

	cause := errors.New("connection refused")
	transportErr := &ExecutionError{Command: "uptime", Err: cause}
	if !errors.Is(transportErr, cause) {
		t.Fatal("ExecutionError does not unwrap its cause")
	}
}
