package runtime

import (
	"context"
	"errors"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
)

// PodLabel is the container label carrying the owning pod's id. The
// "at most one active container per pod" invariant is enforced by lookup
// on this label, not by callers.
const PodLabel = "pinacle.pod.id"

// ErrContainerNotFound indicates no active container backs the pod.
var ErrContainerNotFound = errors.New("runtime: no active container for pod")

// ErrMultipleContainers indicates more than one active container claims
// the same pod. That is a provisioning bug upstream and must surface
// loudly rather than pick one arbitrarily.
var ErrMultipleContainers = errors.New("runtime: multiple active containers for pod")

// Runtime manages the lifecycle of the single sandboxed container backing
// a pod. Two implementations exist: one drives the local Docker daemon
// through its SDK, the other drives a remote daemon through the execution
// channel. Deployment configuration picks one; shared logic never
// branches on which.
type Runtime interface {
	// EnsureContainer returns the pod's active container, creating one
	// from the spec when absent.
	EnsureContainer(ctx context.Context, spec domain.PodSpec) (domain.Container, error)

	// GetActiveContainer fails with ErrContainerNotFound on zero matches
	// and ErrMultipleContainers on more than one.
	GetActiveContainer(ctx context.Context, podID string) (domain.Container, error)

	// ExecInContainer runs argv inside the named container.
	ExecInContainer(ctx context.Context, podID, containerID string, argv []string) (remote.Result, error)

	// StopContainer stops the pod's active container.
	StopContainer(ctx context.Context, podID string) error

	// RemoveContainer stops and removes the pod's container. A missing
	// container is not an error; teardown may race other callers.
	RemoveContainer(ctx context.Context, podID string) error
}
