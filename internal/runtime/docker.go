package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
)

// DockerRuntime manages containers through the local Docker daemon's SDK.
// Used in development where the orchestrator runs next to the daemon.
type DockerRuntime struct {
	cli    *client.Client
	logger *slog.Logger
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a runtime using environment defaults for the
// daemon address.
func NewDockerRuntime(host string, logger *slog.Logger) (*DockerRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, logger: logger}, nil
}

// Close releases the underlying client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// GetActiveContainer lists running containers labeled with the pod id.
func (r *DockerRuntime) GetActiveContainer(ctx context.Context, podID string) (domain.Container, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", PodLabel+"="+podID),
			filters.Arg("status", "running"),
		),
	})
	if err != nil {
		return domain.Container{}, fmt.Errorf("list containers for pod %s: %w", podID, err)
	}
	switch len(list) {
	case 0:
		return domain.Container{}, fmt.Errorf("%w: %s", ErrContainerNotFound, podID)
	case 1:
		return domain.Container{ID: list[0].ID, PodID: podID, Status: domain.ContainerStatusRunning}, nil
	default:
		return domain.Container{}, fmt.Errorf("%w: %s has %d", ErrMultipleContainers, podID, len(list))
	}
}

// EnsureContainer returns the existing active container or creates one.
func (r *DockerRuntime) EnsureContainer(ctx context.Context, spec domain.PodSpec) (domain.Container, error) {
	existing, err := r.GetActiveContainer(ctx, spec.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrContainerNotFound) {
		return domain.Container{}, err
	}

	exposed, bindings := portBindings(spec)
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.BaseImage,
			Labels:       map[string]string{PodLabel: spec.ID},
			Env:          sortedEnv(spec.Environment),
			WorkingDir:   spec.WorkingDir,
			User:         spec.RunAsUser,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
			Resources: container.Resources{
				NanoCPUs: int64(spec.Resources.CPUCores * 1e9),
				Memory:   int64(spec.Resources.MemoryGB * 1024 * 1024 * 1024),
			},
		},
		nil, nil, containerName(spec))
	if err != nil {
		return domain.Container{}, fmt.Errorf("create container for pod %s: %w", spec.ID, err)
	}
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return domain.Container{}, fmt.Errorf("start container %s: %w", created.ID, err)
	}
	r.logger.Info("container created", "pod_id", spec.ID, "container_id", created.ID)
	return domain.Container{ID: created.ID, PodID: spec.ID, Status: domain.ContainerStatusRunning}, nil
}

// ExecInContainer runs argv inside the container and collects its output.
func (r *DockerRuntime) ExecInContainer(ctx context.Context, podID, containerID string, argv []string) (remote.Result, error) {
	command := remote.JoinArgs(argv)
	exec, err := r.cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          []string{"sh", "-lc", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return remote.Result{}, &remote.ExecutionError{Command: command, Err: fmt.Errorf("exec create: %w", err)}
	}

	attach, err := r.cli.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return remote.Result{}, &remote.ExecutionError{Command: command, Err: fmt.Errorf("exec attach: %w", err)}
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return remote.Result{}, &remote.ExecutionError{Command: command, Err: fmt.Errorf("exec read: %w", err)}
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return remote.Result{}, &remote.ExecutionError{Command: command, Err: fmt.Errorf("exec inspect: %w", err)}
	}

	result := remote.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if inspect.ExitCode != 0 {
		return result, &remote.ExecutionError{Command: command, ExitCode: inspect.ExitCode, Stderr: result.Stderr}
	}
	return result, nil
}

// StopContainer stops the pod's active container.
func (r *DockerRuntime) StopContainer(ctx context.Context, podID string) error {
	active, err := r.GetActiveContainer(ctx, podID)
	if err != nil {
		return err
	}
	if err := r.cli.ContainerStop(ctx, active.ID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", active.ID, err)
	}
	return nil
}

// RemoveContainer force-removes every container carrying the pod label.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, podID string) error {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", PodLabel+"="+podID)),
	})
	if err != nil {
		return fmt.Errorf("list containers for pod %s: %w", podID, err)
	}
	for _, c := range list {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", c.ID, err)
		}
		r.logger.Info("container removed", "pod_id", podID, "container_id", c.ID)
	}
	return nil
}

// portBindings renders the spec's network and service ports as Docker
// exposures. Mappings without an external port get a daemon-assigned one.
func portBindings(spec domain.PodSpec) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	add := func(p domain.PortMapping) {
		if p.Internal <= 0 {
			return
		}
		port := nat.Port(fmt.Sprintf("%d/tcp", p.Internal))
		exposed[port] = struct{}{}
		hostPort := ""
		if p.External > 0 {
			hostPort = strconv.Itoa(p.External)
		}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: hostPort})
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
	return exposed, bindings
}
