package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/registry"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
	"github.com/rogeriochaves/pinacle-sub001/internal/runtime"
)

// ErrInvalidServiceName indicates a name outside the allow-list. This is a
// configuration bug on the caller's side, surfaced before any remote call.
var ErrInvalidServiceName = errors.New("provision: invalid service name")

// ErrUnknownService indicates a name with no registry template.
var ErrUnknownService = errors.New("provision: unknown service")

// State is one point in a service's lifecycle inside its pod.
type State string

const (
	StateNotInstalled State = "not-installed"
	StateInstalling   State = "installing"
	StateInstalled    State = "installed"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateFailed       State = "failed"
)

// StartError reports that a service failed to start or come up healthy.
// The pod is left in a failed state rather than silently degraded.
type StartError struct {
	Service string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("service %s failed to start: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

const (
	defaultSettleDelay  = 2 * time.Second
	defaultPollInterval = time.Second
)

// Provisioner installs, supervises, and health-checks services inside pod
// containers. Install and start are separate phases so a stopped pod can
// restart its services without reinstalling them.
type Provisioner struct {
	rt     runtime.Runtime
	logger *slog.Logger

	settleDelay  time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	states map[string]State
}

// New constructs a Provisioner over the given container runtime.
func New(rt runtime.Runtime, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		rt:           rt,
		logger:       logger,
		settleDelay:  defaultSettleDelay,
		pollInterval: defaultPollInterval,
		states:       make(map[string]State),
	}
}

// SetTimings overrides the settle delay and health poll interval. Tests
// and fast local backends shrink these.
func (p *Provisioner) SetTimings(settle, poll time.Duration) {
	p.settleDelay = settle
	p.pollInterval = poll
}

// ProvisionService runs a registry service's install steps and writes its
// supervisor unit into the pod's container.
func (p *Provisioner) ProvisionService(ctx context.Context, spec domain.PodSpec, svc domain.ServiceConfig) error {
	if err := ValidateServiceName(svc.Name); err != nil {
		return err
	}
	tpl, ok := registry.LookupService(svc.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, svc.Name)
	}
	container, err := p.rt.GetActiveContainer(ctx, spec.ID)
	if err != nil {
		return fmt.Errorf("provision %s: %w", svc.Name, err)
	}

	p.setState(spec.ID, svc.Name, StateInstalling)
	for _, step := range tpl.InstallSteps.Resolve(spec) {
		if _, err := p.runStep(ctx, spec.ID, container.ID, step); err != nil {
			p.setState(spec.ID, svc.Name, StateFailed)
			return fmt.Errorf("install %s: %w", svc.Name, err)
		}
	}

	unit := renderUnit(unitSpec{
		Name:         svc.Name,
		DisplayName:  tpl.DisplayName,
		WorkingDir:   spec.WorkingDir,
		StartCommand: tpl.StartCommand(spec),
		Environment:  serviceEnv(tpl, svc, spec),
		CleanupSteps: tpl.CleanupSteps,
	})
	if _, err := p.runStep(ctx, spec.ID, container.ID, writeUnitScript(svc.Name, unit)); err != nil {
		p.setState(spec.ID, svc.Name, StateFailed)
		return fmt.Errorf("write unit for %s: %w", svc.Name, err)
	}

	p.setState(spec.ID, svc.Name, StateInstalled)
	p.logger.Info("service provisioned", "pod_id", spec.ID, "service", svc.Name)
	return nil
}

// ProvisionProcess writes a supervisor unit for a user-defined process.
// Processes carry their own start command and have no install steps.
func (p *Provisioner) ProvisionProcess(ctx context.Context, spec domain.PodSpec, proc domain.ProcessConfig) error {
	if err := ValidateServiceName(proc.Name); err != nil {
		return err
	}
	if strings.TrimSpace(proc.StartCommand) == "" {
		return fmt.Errorf("process %s has no start command", proc.Name)
	}
	container, err := p.rt.GetActiveContainer(ctx, spec.ID)
	if err != nil {
		return fmt.Errorf("provision %s: %w", proc.Name, err)
	}

	p.setState(spec.ID, proc.Name, StateInstalling)
	unit := renderUnit(unitSpec{
		Name:         proc.Name,
		DisplayName:  proc.DisplayName,
		WorkingDir:   spec.WorkingDir,
		StartCommand: []string{"/bin/sh", "-c", proc.StartCommand},
		Environment:  spec.Environment,
	})
	if _, err := p.runStep(ctx, spec.ID, container.ID, writeUnitScript(proc.Name, unit)); err != nil {
		p.setState(spec.ID, proc.Name, StateFailed)
		return fmt.Errorf("write unit for %s: %w", proc.Name, err)
	}

	p.setState(spec.ID, proc.Name, StateInstalled)
	p.logger.Info("process provisioned", "pod_id", spec.ID, "service", proc.Name)
	return nil
}

// StartService starts a provisioned service through its unit and waits for
// it to come up healthy within healthTimeout. A service the supervisor
// reports as already started is treated as success and still health-checked.
func (p *Provisioner) StartService(ctx context.Context, spec domain.PodSpec, name string, healthTimeout time.Duration) error {
	if err := ValidateServiceName(name); err != nil {
		return err
	}
	container, err := p.rt.GetActiveContainer(ctx, spec.ID)
	if err != nil {
		return &StartError{Service: name, Err: err}
	}

	p.setState(spec.ID, name, StateStarting)
	if res, err := p.runStep(ctx, spec.ID, container.ID, "rc-service "+name+" start"); err != nil {
		if !alreadyStarted(res, err) {
			p.setState(spec.ID, name, StateFailed)
			return &StartError{Service: name, Err: err}
		}
		p.logger.Info("service already started", "pod_id", spec.ID, "service", name)
	}

	if err := p.settle(ctx, name); err != nil {
		p.setState(spec.ID, name, StateFailed)
		return &StartError{Service: name, Err: err}
	}

	if !p.CheckServiceHealth(ctx, spec, name, healthTimeout) {
		p.setState(spec.ID, name, StateFailed)
		return &StartError{Service: name, Err: errors.New("health check did not pass")}
	}

	if tpl, ok := registry.LookupService(name); ok {
		for _, step := range tpl.PostStartSteps.Resolve(spec) {
			if _, err := p.runStep(ctx, spec.ID, container.ID, step); err != nil {
				p.setState(spec.ID, name, StateFailed)
				return &StartError{Service: name, Err: fmt.Errorf("post-start step: %w", err)}
			}
		}
	}

	p.setState(spec.ID, name, StateRunning)
	p.logger.Info("service running", "pod_id", spec.ID, "service", name)
	return nil
}

// StopService stops a service best-effort. Stopping an already stopped
// service, or a pod with no container, is not an error; teardown must
// tolerate a service that is already gone.
func (p *Provisioner) StopService(ctx context.Context, podID, name string) error {
	if err := ValidateServiceName(name); err != nil {
		return err
	}
	p.setState(podID, name, StateStopping)
	defer p.setState(podID, name, StateInstalled)

	container, err := p.rt.GetActiveContainer(ctx, podID)
	if err != nil {
		p.logger.Debug("stop skipped, no active container", "pod_id", podID, "service", name)
		return nil
	}
	if _, err := p.runStep(ctx, podID, container.ID, "rc-service "+name+" stop"); err != nil {
		p.logger.Warn("service stop reported an error", "pod_id", podID, "service", name, "error", err)
	}
	return nil
}

// RemoveService stops a service and deletes its unit, pidfile, and logs.
func (p *Provisioner) RemoveService(ctx context.Context, podID, name string) error {
	if err := p.StopService(ctx, podID, name); err != nil {
		return err
	}
	container, err := p.rt.GetActiveContainer(ctx, podID)
	if err != nil {
		p.setState(podID, name, StateNotInstalled)
		return nil
	}
	cleanup := fmt.Sprintf("rm -f %s %s %s %s", unitPath(name), pidFile(name), logFile(name), errLogFile(name))
	if _, err := p.runStep(ctx, podID, container.ID, cleanup); err != nil {
		p.logger.Warn("service cleanup reported an error", "pod_id", podID, "service", name, "error", err)
	}
	p.setState(podID, name, StateNotInstalled)
	return nil
}

// CheckServiceHealth polls the service's health command until it passes or
// the timeout elapses. A zero timeout means exactly one attempt.
func (p *Provisioner) CheckServiceHealth(ctx context.Context, spec domain.PodSpec, name string, timeout time.Duration) bool {
	if err := ValidateServiceName(name); err != nil {
		return false
	}
	container, err := p.rt.GetActiveContainer(ctx, spec.ID)
	if err != nil {
		return false
	}

	cmd := healthCommand(spec, name)
	deadline := time.Now().Add(timeout)
	for {
		if _, err := p.runStep(ctx, spec.ID, container.ID, cmd); err == nil {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.pollInterval):
		}
	}
}

// ServiceLogs returns the last tail lines of the service's output log.
func (p *Provisioner) ServiceLogs(ctx context.Context, podID, name string, tail int) (string, error) {
	if err := ValidateServiceName(name); err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = 100
	}
	container, err := p.rt.GetActiveContainer(ctx, podID)
	if err != nil {
		return "", err
	}
	res, err := p.runStep(ctx, podID, container.ID, fmt.Sprintf("tail -n %s %s 2>/dev/null || true", strconv.Itoa(tail), logFile(name)))
	if err != nil {
		return "", fmt.Errorf("read logs for %s: %w", name, err)
	}
	return res.Stdout, nil
}

// ServiceStatus asks the supervisor for the service's current status line.
func (p *Provisioner) ServiceStatus(ctx context.Context, podID, name string) (string, error) {
	if err := ValidateServiceName(name); err != nil {
		return "", err
	}
	container, err := p.rt.GetActiveContainer(ctx, podID)
	if err != nil {
		return "", err
	}
	res, err := p.runStep(ctx, podID, container.ID, "rc-service "+name+" status")
	if err != nil {
		return "stopped", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// State reports the last lifecycle state recorded for a pod's service.
func (p *Provisioner) State(podID, name string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[podID+"/"+name]; ok {
		return s
	}
	return StateNotInstalled
}

func (p *Provisioner) setState(podID, name string, s State) {
	p.mu.Lock()
	p.states[podID+"/"+name] = s
	p.mu.Unlock()
}

func (p *Provisioner) runStep(ctx context.Context, podID, containerID, step string) (remote.Result, error) {
	return p.rt.ExecInContainer(ctx, podID, containerID, []string{"sh", "-c", step})
}

// settle gives the process time to bind its port before the first health
// probe. Templates with a known slow startup declare their own delay.
func (p *Provisioner) settle(ctx context.Context, name string) error {
	delay := p.settleDelay
	if tpl, ok := registry.LookupService(name); ok && tpl.HealthCheckStartDelay > 0 {
		delay = tpl.HealthCheckStartDelay
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func alreadyStarted(res remote.Result, err error) bool {
	combined := strings.ToLower(res.Stdout + " " + res.Stderr + " " + err.Error())
	return strings.Contains(combined, "already started") || strings.Contains(combined, "already starting")
}

// healthCommand picks the health probe for a named service: an explicit
// per-pod override first, then the registry template, then a user process
// declaration, falling back to the supervisor's own status.
func healthCommand(spec domain.PodSpec, name string) string {
	if svc, ok := spec.Service(name); ok && svc.HealthCheck != "" {
		return svc.HealthCheck
	}
	if tpl, ok := registry.LookupService(name); ok && tpl.HealthCheckCommand != "" {
		return tpl.HealthCheckCommand
	}
	for _, proc := range spec.Processes {
		if proc.Name == name && proc.HealthCheck != "" {
			return proc.HealthCheck
		}
	}
	return "rc-service " + name + " status"
}

// serviceEnv layers the environment a service unit exports: template
// defaults, then required keys pulled from the pod, then per-service
// overrides.
func serviceEnv(tpl registry.ServiceTemplate, svc domain.ServiceConfig, spec domain.PodSpec) map[string]string {
	env := make(map[string]string, len(tpl.Environment)+len(svc.Environment)+len(tpl.RequiredEnvVars))
	for k, v := range tpl.Environment {
		env[k] = v
	}
	for _, key := range tpl.RequiredEnvVars {
		if v, ok := spec.Secrets[key]; ok {
			env[key] = v
		} else if v, ok := spec.Environment[key]; ok {
			env[key] = v
		}
	}
	for k, v := range svc.Environment {
		env[k] = v
	}
	return env
}
