package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
	"github.com/rogeriochaves/pinacle-sub001/internal/runtime"
)

// fakeRuntime scripts exec outcomes by step substring and records every
// step that reaches the container.
type fakeRuntime struct {
	missing   bool
	failWith  map[string]error
	responses map[string]remote.Result
	steps     []string
	lookups   int
}

var _ runtime.Runtime = (*fakeRuntime)(nil)

func (f *fakeRuntime) EnsureContainer(ctx context.Context, spec domain.PodSpec) (domain.Container, error) {
	return f.GetActiveContainer(ctx, spec.ID)
}

func (f *fakeRuntime) GetActiveContainer(ctx context.Context, podID string) (domain.Container, error) {
	f.lookups++
	if f.missing {
		return domain.Container{}, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, podID)
	}
	return domain.Container{ID: "c-1", PodID: podID, Status: domain.ContainerStatusRunning}, nil
}

func (f *fakeRuntime) ExecInContainer(ctx context.Context, podID, containerID string, argv []string) (remote.Result, error) {
	step := argv[len(argv)-1]
	f.steps = append(f.steps, step)
	for substr, err := range f.failWith {
		if strings.Contains(step, substr) {
			return remote.Result{}, err
		}
	}
	for substr, res := range f.responses {
		if strings.Contains(step, substr) {
			return res, nil
		}
	}
	return remote.Result{}, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, podID string) error   { return nil }
func (f *fakeRuntime) RemoveContainer(ctx context.Context, podID string) error { return nil }

func newTestProvisioner(rt runtime.Runtime) *Provisioner {
	p := New(rt, slog.New(slog.DiscardHandler))
	p.settleDelay = 0
	p.pollInterval = 0
	return p
}

func testSpec() domain.PodSpec {
	return domain.PodSpec{
		ID:         "pod-1",
		Slug:       "demo",
		WorkingDir: "/workspace",
		Services: []domain.ServiceConfig{
			{Name: "code-server", Enabled: true},
		},
	}
}

func TestProvisionServiceRejectsInvalidNameBeforeRemoteCalls(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)

	err := p.ProvisionService(context.Background(), testSpec(), domain.ServiceConfig{Name: "bad;rm -rf /"})
	if !errors.Is(err, ErrInvalidServiceName) {
		t.Fatalf("expected ErrInvalidServiceName, got %v", err)
	}
	if rt.lookups != 0 || len(rt.steps) != 0 {
		t.Fatalf("remote calls made for invalid name: lookups=%d steps=%d", rt.lookups, len(rt.steps))
	}
}

func TestProvisionServiceInstallsAndWritesUnit(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)
	spec := testSpec()

	svc, _ := spec.Service("code-server")
	if err := p.ProvisionService(context.Background(), spec, svc); err != nil {
		t.Fatalf("ProvisionService returned error: %v", err)
	}

	var installed, wroteUnit bool
	for _, step := range rt.steps {
		if strings.Contains(step, "code-server.dev/install.sh") {
			installed = true
		}
		if strings.Contains(step, "cat > /etc/init.d/code-server") {
			wroteUnit = true
			if !strings.Contains(step, "#!/sbin/openrc-run") {
				t.Fatalf("unit write lacks openrc shebang: %s", step)
			}
			if !strings.Contains(step, "chmod +x /etc/init.d/code-server") {
				t.Fatalf("unit write lacks chmod: %s", step)
			}
		}
	}
	if !installed || !wroteUnit {
		t.Fatalf("missing steps: installed=%v wroteUnit=%v steps=%v", installed, wroteUnit, rt.steps)
	}
	if got := p.State("pod-1", "code-server"); got != StateInstalled {
		t.Fatalf("state = %s, want %s", got, StateInstalled)
	}
}

func TestProvisionServiceInstallFailureMarksFailed(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{"install.sh": errors.New("network down")}}
	p := newTestProvisioner(rt)
	spec := testSpec()

	svc, _ := spec.Service("code-server")
	if err := p.ProvisionService(context.Background(), spec, svc); err == nil {
		t.Fatal("expected install failure")
	}
	if got := p.State("pod-1", "code-server"); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
}

func TestProvisionProcessWritesShellUnit(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)
	spec := testSpec()

	proc := domain.ProcessConfig{Name: "web", DisplayName: "Dev server", StartCommand: "pnpm dev"}
	if err := p.ProvisionProcess(context.Background(), spec, proc); err != nil {
		t.Fatalf("ProvisionProcess returned error: %v", err)
	}

	var unit string
	for _, step := range rt.steps {
		if strings.Contains(step, "cat > /etc/init.d/web") {
			unit = step
		}
	}
	if unit == "" {
		t.Fatalf("no unit written: %v", rt.steps)
	}
	if !strings.Contains(unit, "command='/bin/sh'") {
		t.Fatalf("process unit does not run through a shell: %s", unit)
	}
	if !strings.Contains(unit, "pnpm dev") {
		t.Fatalf("process unit lacks start command: %s", unit)
	}
}

func TestStartServiceAlreadyStartedIsIdempotentSuccess(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{
		"rc-service code-server start": errors.New("WARNING: code-server has already been started"),
	}}
	p := newTestProvisioner(rt)
	spec := testSpec()

	if err := p.StartService(context.Background(), spec, "code-server", 0); err != nil {
		t.Fatalf("StartService returned error: %v", err)
	}
	if got := p.State("pod-1", "code-server"); got != StateRunning {
		t.Fatalf("state = %s, want %s", got, StateRunning)
	}
}

func TestStartServiceFailureIsTyped(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{
		"rc-service code-server start": errors.New("supervise-daemon: failed"),
	}}
	p := newTestProvisioner(rt)

	err := p.StartService(context.Background(), testSpec(), "code-server", 0)
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected StartError, got %v", err)
	}
	if startErr.Service != "code-server" {
		t.Fatalf("StartError names %q", startErr.Service)
	}
	if got := p.State("pod-1", "code-server"); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
}

func TestStartServiceHealthFailureMarksFailed(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{
		"curl -sf http://127.0.0.1:8726/healthz": errors.New("connection refused"),
	}}
	p := newTestProvisioner(rt)

	err := p.StartService(context.Background(), testSpec(), "code-server", 0)
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected StartError, got %v", err)
	}
	if got := p.State("pod-1", "code-server"); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
}

func TestCheckServiceHealthZeroTimeoutAttemptsOnce(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{
		"curl -sf http://127.0.0.1:8726/healthz": errors.New("connection refused"),
	}}
	p := newTestProvisioner(rt)

	if p.CheckServiceHealth(context.Background(), testSpec(), "code-server", 0) {
		t.Fatal("health check passed against a failing probe")
	}
	attempts := 0
	for _, step := range rt.steps {
		if strings.Contains(step, "healthz") {
			attempts++
		}
	}
	if attempts != 1 {
		t.Fatalf("zero timeout made %d attempts, want exactly 1", attempts)
	}
}

func TestCheckServiceHealthPassesWhenProbeSucceeds(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)

	if !p.CheckServiceHealth(context.Background(), testSpec(), "code-server", 0) {
		t.Fatal("health check failed against a passing probe")
	}
}

func TestStopServiceIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{failWith: map[string]error{
		"rc-service code-server stop": errors.New("service already stopped"),
	}}
	p := newTestProvisioner(rt)

	for i := 0; i < 2; i++ {
		if err := p.StopService(context.Background(), "pod-1", "code-server"); err != nil {
			t.Fatalf("stop attempt %d returned error: %v", i+1, err)
		}
	}
	if got := p.State("pod-1", "code-server"); got != StateInstalled {
		t.Fatalf("state = %s, want %s", got, StateInstalled)
	}
}

func TestStopServiceWithoutContainerIsNoop(t *testing.T) {
	rt := &fakeRuntime{missing: true}
	p := newTestProvisioner(rt)

	if err := p.StopService(context.Background(), "pod-1", "code-server"); err != nil {
		t.Fatalf("StopService returned error: %v", err)
	}
	if len(rt.steps) != 0 {
		t.Fatalf("stop issued remote steps without a container: %v", rt.steps)
	}
}

func TestRemoveServiceDeletesUnitAndState(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)

	if err := p.RemoveService(context.Background(), "pod-1", "code-server"); err != nil {
		t.Fatalf("RemoveService returned error: %v", err)
	}
	var removed bool
	for _, step := range rt.steps {
		if strings.Contains(step, "rm -f /etc/init.d/code-server") {
			removed = true
		}
	}
	if !removed {
		t.Fatalf("unit not removed: %v", rt.steps)
	}
	if got := p.State("pod-1", "code-server"); got != StateNotInstalled {
		t.Fatalf("state = %s, want %s", got, StateNotInstalled)
	}
}

func TestServiceEnvPullsRequiredKeysFromPod(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestProvisioner(rt)
	spec := domain.PodSpec{
		ID:         "pod-1",
		WorkingDir: "/workspace",
		Secrets:    map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"},
		Services: []domain.ServiceConfig{
			{Name: "claude-code", Enabled: true},
		},
	}

	svc, _ := spec.Service("claude-code")
	if err := p.ProvisionService(context.Background(), spec, svc); err != nil {
		t.Fatalf("ProvisionService returned error: %v", err)
	}
	var unit string
	for _, step := range rt.steps {
		if strings.Contains(step, "cat > /etc/init.d/claude-code") {
			unit = step
		}
	}
	if !strings.Contains(unit, "export ANTHROPIC_API_KEY='sk-ant-test'") {
		t.Fatalf("required env var not exported in unit: %s", unit)
	}
}
