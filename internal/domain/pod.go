package domain

import "time"

// PodStatus tracks a pod through its lifecycle.
type PodStatus string

const (
	PodStatusPending  PodStatus = "pending"
	PodStatusCreating PodStatus = "creating"
	PodStatusRunning  PodStatus = "running"
	PodStatusStopping PodStatus = "stopping"
	PodStatusStopped  PodStatus = "stopped"
	PodStatusFailed   PodStatus = "failed"
)

// Pod is one tenant's isolated development environment, backed by exactly
// one sandboxed container at a time.
type Pod struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"owner_id"`
	TeamID    string    `json:"team_id,omitempty"`
	Status    PodStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ContainerStatus tracks the container backing a pod.
type ContainerStatus string

const (
	ContainerStatusCreating ContainerStatus = "creating"
	ContainerStatusRunning  ContainerStatus = "running"
	ContainerStatusStopping ContainerStatus = "stopping"
	ContainerStatusFailed   ContainerStatus = "failed"
)

// Container is the runtime's handle to the sandboxed process group backing
// a running pod.
type Container struct {
	ID     string          `json:"id"`
	PodID  string          `json:"pod_id"`
	Status ContainerStatus `json:"status"`
}
