package runtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
)

// fakeChannel scripts responses by command substring.
type fakeChannel struct {
	responses map[string]remote.Result
	failWith  map[string]error
	calls     []fakeCall
}

type fakeCall struct {
	command string
	opts    remote.ExecOptions
}

func (f *fakeChannel) Exec(ctx context.Context, command string, opts remote.ExecOptions) (remote.Result, error) {
	f.calls = append(f.calls, fakeCall{command: command, opts: opts})
	for substr, err := range f.failWith {
		if strings.Contains(command, substr) {
			return remote.Result{}, err
		}
	}
	for substr, res := range f.responses {
		if strings.Contains(command, substr) {
			return res, nil
		}
	}
	return remote.Result{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGetActiveContainerNotFound(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: "\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	_, err := rt.GetActiveContainer(context.Background(), "pod-1")
	if !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestGetActiveContainerSingle(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: "abc123\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	c, err := rt.GetActiveContainer(context.Background(), "pod-1")
	if err != nil {
		t.Fatalf("GetActiveContainer returned error: %v", err)
	}
	if c.ID != "abc123" || c.PodID != "pod-1" || c.Status != domain.ContainerStatusRunning {
		t.Fatalf("unexpected container: %+v", c)
	}
}

func TestGetActiveContainerMultipleIsLoud(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: "abc123\ndef456\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	_, err := rt.GetActiveContainer(context.Background(), "pod-1")
	if !errors.Is(err, ErrMultipleContainers) {
		t.Fatalf("expected ErrMultipleContainers, got %v", err)
	}
}

func TestEnsureContainerReusesActive(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: "abc123\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	c, err := rt.EnsureContainer(context.Background(), domain.PodSpec{ID: "pod-1", Slug: "demo"})
	if err != nil {
		t.Fatalf("EnsureContainer returned error: %v", err)
	}
	if c.ID != "abc123" {
		t.Fatalf("expected reuse of active container, got %+v", c)
	}
	for _, call := range ch.calls {
		if strings.Contains(call.command, "docker run") {
			t.Fatal("EnsureContainer created a second container for an active pod")
		}
	}
}

func TestEnsureContainerCreatesWhenAbsent(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{
		"docker ps":  {Stdout: ""},
		"docker run": {Stdout: "new-id-789\n"},
	}}
	rt := NewRemoteRuntime(ch, testLogger())

	spec := domain.PodSpec{
		ID:         "pod-1",
		Slug:       "demo",
		BaseImage:  "pinacle/workspace-base:latest",
		WorkingDir: "/workspace",
		Resources:  domain.Resources{CPUCores: 2, MemoryGB: 4},
		Services: []domain.ServiceConfig{
			{Name: "code-server", Enabled: true, Ports: []domain.PortMapping{{Internal: 8726}}},
		},
	}
	c, err := rt.EnsureContainer(context.Background(), spec)
	if err != nil {
		t.Fatalf("EnsureContainer returned error: %v", err)
	}
	if c.ID != "new-id-789" {
		t.Fatalf("unexpected container id: %q", c.ID)
	}

	var runCmd string
	for _, call := range ch.calls {
		if strings.Contains(call.command, "docker run") {
			runCmd = call.command
		}
	}
	if runCmd == "" {
		t.Fatal("docker run never issued")
	}
	for _, want := range []string{
		"--label '" + PodLabel + "=pod-1'",
		"--cpus 2",
		"--memory 4g",
		"--name 'pod-demo'",
		"-p 8726",
		"'pinacle/workspace-base:latest'",
	} {
		if !strings.Contains(runCmd, want) {
			t.Fatalf("docker run missing %q: %s", want, runCmd)
		}
	}
}

func TestEnsureContainerQuotesTenantValues(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{
		"docker ps":  {Stdout: ""},
		"docker run": {Stdout: "new-id-789\n"},
	}}
	rt := NewRemoteRuntime(ch, testLogger())

	spec := domain.PodSpec{
		ID:         "pod-1",
		Slug:       "demo",
		BaseImage:  "pinacle/workspace-base:latest",
		WorkingDir: "/work space",
		Resources:  domain.Resources{CPUCores: 1, MemoryGB: 2},
		Environment: map[string]string{
			"EVIL": "x; touch /tmp/pwned; :",
		},
	}
	if _, err := rt.EnsureContainer(context.Background(), spec); err != nil {
		t.Fatalf("EnsureContainer returned error: %v", err)
	}

	var runCmd string
	for _, call := range ch.calls {
		if strings.Contains(call.command, "docker run") {
			runCmd = call.command
		}
	}
	if runCmd == "" {
		t.Fatal("docker run never issued")
	}
	if !strings.Contains(runCmd, "-e 'EVIL=x; touch /tmp/pwned; :'") {
		t.Fatalf("environment value not quoted: %s", runCmd)
	}
	if !strings.Contains(runCmd, "--workdir '/work space'") {
		t.Fatalf("workdir not quoted: %s", runCmd)
	}
	if strings.Contains(runCmd, "-e EVIL=") {
		t.Fatalf("environment value reached the shell unquoted: %s", runCmd)
	}
}

func TestEnsureContainerPropagatesMultiple(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: "a\nb\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	_, err := rt.EnsureContainer(context.Background(), domain.PodSpec{ID: "pod-1"})
	if !errors.Is(err, ErrMultipleContainers) {
		t.Fatalf("expected ErrMultipleContainers, got %v", err)
	}
}

func TestExecInContainerUsesContainerScope(t *testing.T) {
	ch := &fakeChannel{}
	rt := NewRemoteRuntime(ch, testLogger())

	_, err := rt.ExecInContainer(context.Background(), "pod-1", "abc123", []string{"rc-service", "code-server", "status"})
	if err != nil {
		t.Fatalf("ExecInContainer returned error: %v", err)
	}
	if len(ch.calls) != 1 {
		t.Fatalf("expected one channel call, got %d", len(ch.calls))
	}
	call := ch.calls[0]
	if call.opts.Container != "abc123" {
		t.Fatalf("container scope not applied: %+v", call.opts)
	}
	if !strings.Contains(call.command, "'rc-service' 'code-server' 'status'") {
		t.Fatalf("argv not joined and quoted: %q", call.command)
	}
}

func TestRemoveContainerRemovesAllLabeled(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps -a": {Stdout: "a1\na2\n"}}}
	rt := NewRemoteRuntime(ch, testLogger())

	if err := rt.RemoveContainer(context.Background(), "pod-1"); err != nil {
		t.Fatalf("RemoveContainer returned error: %v", err)
	}
	removed := 0
	for _, call := range ch.calls {
		if strings.Contains(call.command, "docker rm -f") {
			removed++
		}
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
}

func TestStopContainerRequiresActive(t *testing.T) {
	ch := &fakeChannel{responses: map[string]remote.Result{"docker ps": {Stdout: ""}}}
	rt := NewRemoteRuntime(ch, testLogger())

	if err := rt.StopContainer(context.Background(), "pod-1"); !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}
