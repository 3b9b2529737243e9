package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/provision"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
	"github.com/rogeriochaves/pinacle-sub001/internal/repository"
	"github.com/rogeriochaves/pinacle-sub001/internal/runtime"
	podspec "github.com/rogeriochaves/pinacle-sub001/internal/spec"
	"github.com/rogeriochaves/pinacle-sub001/internal/ws"
	"github.com/rogeriochaves/pinacle-sub001/pkg/crypto"
)

const defaultHealthTimeout = 30 * time.Second

// ErrNoPodConfig indicates a workspace without a pod configuration
// document; callers fall back to template resolution.
var ErrNoPodConfig = errors.New("orchestrator: no pod configuration in workspace")

// ValidationError carries every problem found in a spec at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "spec validation failed: " + strings.Join(e.Problems, "; ")
}

// ServiceStatus is one service's view for status listings.
type ServiceStatus struct {
	Name    string          `json:"name"`
	State   provision.State `json:"state"`
	Status  string          `json:"status"`
	Healthy bool            `json:"healthy"`
}

// Orchestrator drives pod lifecycles end to end: resolve and validate the
// spec, ensure the container, provision and start services, and tear
// everything down again.
type Orchestrator struct {
	resolver podspec.Resolver
	rt       runtime.Runtime
	prov     *provision.Provisioner
	pods     repository.PodRepository
	hub      *ws.Hub
	logger   *slog.Logger

	secretsKey    string
	healthTimeout time.Duration
}

// New constructs an Orchestrator. hub may be nil when log streaming is
// not wired.
func New(resolver podspec.Resolver, rt runtime.Runtime, prov *provision.Provisioner, pods repository.PodRepository, hub *ws.Hub, secretsKey string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resolver:      resolver,
		rt:            rt,
		prov:          prov,
		pods:          pods,
		hub:           hub,
		logger:        logger,
		secretsKey:    secretsKey,
		healthTimeout: defaultHealthTimeout,
	}
}

// ResolveAndValidate expands a template with overrides and validates the
// result. The returned problems list is empty for a valid spec.
func (o *Orchestrator) ResolveAndValidate(templateID string, overrides *domain.PodSpec) (domain.PodSpec, []string, error) {
	resolved, err := o.resolver.Resolve(templateID, overrides)
	if err != nil {
		return domain.PodSpec{}, nil, err
	}
	result := podspec.Validate(resolved)
	return resolved, result.Errors, nil
}

// ResolveFromWorkspace builds a spec from the pod configuration document
// at the root of a checked-out repository. Document-level problems
// (unknown tier or service ids, missing fields) come back as validation
// problems, not errors.
func (o *Orchestrator) ResolveFromWorkspace(dir string) (domain.PodSpec, []string, error) {
	if !podspec.FileExists(dir) {
		return domain.PodSpec{}, nil, ErrNoPodConfig
	}
	f, err := podspec.LoadFile(dir)
	if err != nil {
		return domain.PodSpec{}, nil, err
	}
	if problems := f.Check(); len(problems) > 0 {
		return domain.PodSpec{}, problems, nil
	}
	overrides := f.Overrides(o.resolver)
	return o.ResolveAndValidate(f.Template, &overrides)
}

// CreatePod persists a new pod record in pending state.
func (o *Orchestrator) CreatePod(ctx context.Context, name, ownerID, teamID string) (*domain.Pod, error) {
	pod := &domain.Pod{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      Slugify(name),
		OwnerID:   ownerID,
		TeamID:    teamID,
		Status:    domain.PodStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if pod.Slug == "" {
		return nil, fmt.Errorf("pod name %q yields an empty slug", name)
	}
	if err := o.pods.CreatePod(ctx, pod); err != nil {
		return nil, fmt.Errorf("create pod %s: %w", pod.Slug, err)
	}
	o.logger.Info("pod created", "pod_id", pod.ID, "slug", pod.Slug, "owner_id", ownerID)
	return pod, nil
}

// Provision brings a pod fully up: container, install steps, every enabled
// service in dependency order, then user processes. A service that fails
// to start leaves the pod in failed state; nothing is silently skipped.
func (o *Orchestrator) Provision(ctx context.Context, s domain.PodSpec) error {
	if result := podspec.Validate(s); !result.Valid {
		return &ValidationError{Problems: result.Errors}
	}
	o.setStatus(ctx, s.ID, domain.PodStatusCreating)

	container, err := o.rt.EnsureContainer(ctx, s)
	if err != nil {
		o.setStatus(ctx, s.ID, domain.PodStatusFailed)
		return fmt.Errorf("ensure container for pod %s: %w", s.ID, err)
	}

	for _, step := range s.Install {
		if _, err := o.rt.ExecInContainer(ctx, s.ID, container.ID, []string{"sh", "-c", step}); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return fmt.Errorf("install step for pod %s: %w", s.ID, err)
		}
	}

	if err := o.writeWorkspaceConfig(ctx, s, container.ID); err != nil {
		o.logger.Warn("workspace config write failed", "pod_id", s.ID, "error", err)
	}

	for _, svc := range orderServices(s.Services) {
		if !svc.Enabled {
			continue
		}
		if err := o.prov.ProvisionService(ctx, s, svc); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
		if err := o.prov.StartService(ctx, s, svc.Name, o.healthTimeout); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
	}

	for _, proc := range s.Processes {
		if err := o.prov.ProvisionProcess(ctx, s, proc); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
		if err := o.prov.StartService(ctx, s, proc.Name, o.healthTimeout); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
	}

	o.setStatus(ctx, s.ID, domain.PodStatusRunning)
	o.logger.Info("pod provisioned", "pod_id", s.ID, "services", len(s.Services))
	return nil
}

// Start resumes a pod. With an active container it restarts services in
// place; a pod whose container is gone is provisioned from scratch, since
// a fresh container has no units installed.
func (o *Orchestrator) Start(ctx context.Context, s domain.PodSpec) error {
	_, err := o.rt.GetActiveContainer(ctx, s.ID)
	if errors.Is(err, runtime.ErrContainerNotFound) {
		return o.Provision(ctx, s)
	}
	if err != nil {
		return err
	}

	for _, svc := range orderServices(s.Services) {
		if !svc.Enabled {
			continue
		}
		if err := o.prov.StartService(ctx, s, svc.Name, o.healthTimeout); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
	}
	for _, proc := range s.Processes {
		if err := o.prov.StartService(ctx, s, proc.Name, o.healthTimeout); err != nil {
			o.setStatus(ctx, s.ID, domain.PodStatusFailed)
			return err
		}
	}
	o.setStatus(ctx, s.ID, domain.PodStatusRunning)
	return nil
}

// Stop halts a pod's services in reverse dependency order, then its
// container. Stop is best-effort throughout; a half-stopped pod still
// ends up stopped.
func (o *Orchestrator) Stop(ctx context.Context, s domain.PodSpec) error {
	o.setStatus(ctx, s.ID, domain.PodStatusStopping)

	ordered := orderServices(s.Services)
	for i := len(s.Processes) - 1; i >= 0; i-- {
		_ = o.prov.StopService(ctx, s.ID, s.Processes[i].Name)
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		if !ordered[i].Enabled {
			continue
		}
		_ = o.prov.StopService(ctx, s.ID, ordered[i].Name)
	}

	if err := o.rt.StopContainer(ctx, s.ID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		o.logger.Warn("container stop reported an error", "pod_id", s.ID, "error", err)
	}
	o.setStatus(ctx, s.ID, domain.PodStatusStopped)
	return nil
}

// Delete removes a pod's container and its record.
func (o *Orchestrator) Delete(ctx context.Context, podID string) error {
	if err := o.rt.RemoveContainer(ctx, podID); err != nil {
		return fmt.Errorf("remove container for pod %s: %w", podID, err)
	}
	if err := o.pods.DeletePod(ctx, podID); err != nil {
		return fmt.Errorf("delete pod %s: %w", podID, err)
	}
	o.logger.Info("pod deleted", "pod_id", podID)
	return nil
}

// ServiceLogs returns the last tail lines of one service's log.
func (o *Orchestrator) ServiceLogs(ctx context.Context, podID, service string, tail int) (string, error) {
	return o.prov.ServiceLogs(ctx, podID, service, tail)
}

// Status reports every service's supervisor state and current health.
func (o *Orchestrator) Status(ctx context.Context, s domain.PodSpec) []ServiceStatus {
	names := make([]string, 0, len(s.Services)+len(s.Processes))
	for _, svc := range s.Services {
		if svc.Enabled {
			names = append(names, svc.Name)
		}
	}
	for _, proc := range s.Processes {
		names = append(names, proc.Name)
	}

	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		status, err := o.prov.ServiceStatus(ctx, s.ID, name)
		if err != nil {
			status = "unknown"
		}
		out = append(out, ServiceStatus{
			Name:    name,
			State:   o.prov.State(s.ID, name),
			Status:  status,
			Healthy: o.prov.CheckServiceHealth(ctx, s, name, 0),
		})
	}
	return out
}

// SealSecrets encrypts every secret value in place for storage or echoing
// back to clients. Values are AES-GCM ciphertext, base64-encoded.
func (o *Orchestrator) SealSecrets(s domain.PodSpec) (domain.PodSpec, error) {
	if len(s.Secrets) == 0 || o.secretsKey == "" {
		return s, nil
	}
	sealed := make(map[string]string, len(s.Secrets))
	for k, v := range s.Secrets {
		ct, err := crypto.EncryptString(o.secretsKey, v)
		if err != nil {
			return domain.PodSpec{}, fmt.Errorf("seal secret %s: %w", k, err)
		}
		sealed[k] = base64.StdEncoding.EncodeToString(ct)
	}
	s.Secrets = sealed
	return s, nil
}

// OpenSecrets reverses SealSecrets before a spec is provisioned.
func (o *Orchestrator) OpenSecrets(s domain.PodSpec) (domain.PodSpec, error) {
	if len(s.Secrets) == 0 || o.secretsKey == "" {
		return s, nil
	}
	opened := make(map[string]string, len(s.Secrets))
	for k, v := range s.Secrets {
		ct, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return domain.PodSpec{}, fmt.Errorf("open secret %s: %w", k, err)
		}
		pt, err := crypto.DecryptToString(o.secretsKey, ct)
		if err != nil {
			return domain.PodSpec{}, fmt.Errorf("open secret %s: %w", k, err)
		}
		opened[k] = pt
	}
	s.Secrets = opened
	return s, nil
}

// StreamServiceLogs tails one service's log into the hub until ctx is
// cancelled. Reads are byte-offset based so lines are delivered once even
// though the transport is one-shot command execution.
func (o *Orchestrator) StreamServiceLogs(ctx context.Context, podID, service string, interval time.Duration) error {
	if o.hub == nil {
		return errors.New("log streaming is not wired")
	}
	if err := provision.ValidateServiceName(service); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var offset int
	for {
		container, err := o.rt.GetActiveContainer(ctx, podID)
		if err == nil {
			cmd := fmt.Sprintf("tail -c +%d /var/log/pinacle/%s.log 2>/dev/null || true", offset+1, service)
			res, err := o.rt.ExecInContainer(ctx, podID, container.ID, []string{"sh", "-c", cmd})
			if err == nil && res.Stdout != "" {
				offset += len(res.Stdout)
				for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
					o.hub.Publish(ws.LogEvent{PodID: podID, Service: service, Line: line, Time: time.Now().UTC()})
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// writeWorkspaceConfig reflects the resolved configuration back into the
// container workspace as pinacle.yaml. Best-effort from the caller's view;
// the pod works without it.
func (o *Orchestrator) writeWorkspaceConfig(ctx context.Context, s domain.PodSpec, containerID string) error {
	data, err := yaml.Marshal(podspec.FileFromSpec(s))
	if err != nil {
		return fmt.Errorf("marshal pod config: %w", err)
	}
	dir := s.WorkingDir
	if dir == "" {
		dir = podspec.DefaultWorkingDir
	}
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s << 'PINACLE_CFG_EOF'\n%sPINACLE_CFG_EOF",
		remote.ShellQuote(dir), remote.ShellQuote(dir+"/"+podspec.FileName), string(data))
	if _, err := o.rt.ExecInContainer(ctx, s.ID, containerID, []string{"sh", "-c", cmd}); err != nil {
		return fmt.Errorf("write pod config: %w", err)
	}
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, podID string, status domain.PodStatus) {
	if err := o.pods.UpdatePodStatus(ctx, podID, status); err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.logger.Warn("pod status update failed", "pod_id", podID, "status", status, "error", err)
	}
}

// orderServices places every service after the services it depends on.
// Validation guarantees dependencies reference enabled services, so a
// cycle is the only way to exhaust the loop; remaining entries are
// appended as-is rather than dropped.
func orderServices(services []domain.ServiceConfig) []domain.ServiceConfig {
	placed := make(map[string]bool, len(services))
	out := make([]domain.ServiceConfig, 0, len(services))
	remaining := append([]domain.ServiceConfig(nil), services...)

	for len(remaining) > 0 {
		progress := false
		next := remaining[:0]
		for _, svc := range remaining {
			ready := true
			for _, dep := range svc.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, svc)
				placed[svc.Name] = true
				progress = true
			} else {
				next = append(next, svc)
			}
		}
		remaining = next
		if !progress {
			out = append(out, remaining...)
			break
		}
	}
	return out
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives the URL-safe slug used in proxy hostnames.
func Slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
