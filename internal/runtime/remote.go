package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
)

// RemoteRuntime manages containers on an SSH-reachable host by driving
// the docker CLI over the execution channel.
type RemoteRuntime struct {
	ch     remote.Channel
	logger *slog.Logger
}

var _ Runtime = (*RemoteRuntime)(nil)

// NewRemoteRuntime constructs a RemoteRuntime on the given channel.
func NewRemoteRuntime(ch remote.Channel, logger *slog.Logger) *RemoteRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteRuntime{ch: ch, logger: logger}
}

// GetActiveContainer lists running containers labeled with the pod id.
func (r *RemoteRuntime) GetActiveContainer(ctx context.Context, podID string) (domain.Container, error) {
	cmd := fmt.Sprintf("docker ps --filter label=%s --format '{{.ID}}'", remote.ShellQuote(PodLabel+"="+podID))
	res, err := r.ch.Exec(ctx, cmd, remote.ExecOptions{})
	if err != nil {
		return domain.Container{}, fmt.Errorf("list containers for pod %s: %w", podID, err)
	}

	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	switch len(ids) {
	case 0:
		return domain.Container{}, fmt.Errorf("%w: %s", ErrContainerNotFound, podID)
	case 1:
		return domain.Container{ID: ids[0], PodID: podID, Status: domain.ContainerStatusRunning}, nil
	default:
		return domain.Container{}, fmt.Errorf("%w: %s has %d", ErrMultipleContainers, podID, len(ids))
	}
}

// EnsureContainer returns the existing active container or creates one.
func (r *RemoteRuntime) EnsureContainer(ctx context.Context, spec domain.PodSpec) (domain.Container, error) {
	existing, err := r.GetActiveContainer(ctx, spec.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrContainerNotFound) {
		return domain.Container{}, err
	}

	res, err := r.ch.Exec(ctx, r.runCommand(spec), remote.ExecOptions{})
	if err != nil {
		return domain.Container{}, fmt.Errorf("create container for pod %s: %w", spec.ID, err)
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return domain.Container{}, fmt.Errorf("create container for pod %s: docker returned no id", spec.ID)
	}
	r.logger.Info("container created", "pod_id", spec.ID, "container_id", id)
	return domain.Container{ID: id, PodID: spec.ID, Status: domain.ContainerStatusRunning}, nil
}

// ExecInContainer delegates to the channel with container scoping.
func (r *RemoteRuntime) ExecInContainer(ctx context.Context, podID, containerID string, argv []string) (remote.Result, error) {
	return r.ch.Exec(ctx, remote.JoinArgs(argv), remote.ExecOptions{Container: containerID})
}

// StopContainer stops the pod's active container.
func (r *RemoteRuntime) StopContainer(ctx context.Context, podID string) error {
	container, err := r.GetActiveContainer(ctx, podID)
	if err != nil {
		return err
	}
	if _, err := r.ch.Exec(ctx, "docker stop "+container.ID, remote.ExecOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", container.ID, err)
	}
	return nil
}

// RemoveContainer force-removes whatever container carries the pod label,
// running or not. A pod with no container is not an error here.
func (r *RemoteRuntime) RemoveContainer(ctx context.Context, podID string) error {
	cmd := fmt.Sprintf("docker ps -a --filter label=%s --format '{{.ID}}'", remote.ShellQuote(PodLabel+"="+podID))
	res, err := r.ch.Exec(ctx, cmd, remote.ExecOptions{})
	if err != nil {
		return fmt.Errorf("list containers for pod %s: %w", podID, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		if _, err := r.ch.Exec(ctx, "docker rm -f "+id, remote.ExecOptions{}); err != nil {
			return fmt.Errorf("remove container %s: %w", id, err)
		}
		r.logger.Info("container removed", "pod_id", podID, "container_id", id)
	}
	return nil
}

// runCommand renders the docker run invocation for a spec. The command
// travels to the host through a shell, and names, env values, workdir,
// and image all carry tenant input, so every such argument is quoted.
func (r *RemoteRuntime) runCommand(spec domain.PodSpec) string {
	args := []string{
		"docker", "run", "-d",
		"--name", remote.ShellQuote(containerName(spec)),
		"--label", remote.ShellQuote(fmt.Sprintf("%s=%s", PodLabel, spec.ID)),
		"--cpus", fmt.Sprintf("%g", spec.Resources.CPUCores),
		"--memory", fmt.Sprintf("%gg", spec.Resources.MemoryGB),
		"--workdir", remote.ShellQuote(spec.WorkingDir),
	}
	for _, p := range publishedPorts(spec) {
		args = append(args, "-p", p)
	}
	for _, kv := range sortedEnv(spec.Environment) {
		args = append(args, "-e", remote.ShellQuote(kv))
	}
	args = append(args, remote.ShellQuote(spec.BaseImage))
	return strings.Join(args, " ")
}

func containerName(spec domain.PodSpec) string {
	slug := spec.Slug
	if slug == "" {
		slug = spec.ID
	}
	return "pod-" + slug
}

// publishedPorts collects port publications from the network config and
// every enabled service. Mappings without an external port get a host
// port assigned by the daemon.
func publishedPorts(spec domain.PodSpec) []string {
	var out []string
	add := func(p domain.PortMapping) {
		if p.Internal <= 0 {
			return
		}
		if p.External > 0 {
			out = append(out, fmt.Sprintf("%d:%d", p.External, p.Internal))
		} else {
			out = append(out, fmt.Sprintf("%d", p.Internal))
		}
	}
	for _, p := range spec.Network.Ports {
		add(p)
	}
	for _, svc := range spec.Services {
		if !svc.Enabled {
			continue
		}
		for _, p := range svc.Ports {
			add(p)
		}
	}
	return out
}

func sortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
