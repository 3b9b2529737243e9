package domain

// Resources is the allocation a pod runs with. Tier names the bundle the
// user picked; the explicit values are what the runtime actually enforces.
type Resources struct {
	Tier      string  `json:"tier"`
	CPUCores  float64 `json:"cpu_cores"`
	MemoryGB  float64 `json:"memory_gb"`
	StorageGB int     `json:"storage_gb"`
}

// PortMapping maps a container-internal port to an externally visible one.
type PortMapping struct {
	Name     string `json:"name,omitempty"`
	Internal int    `json:"internal"`
	External int    `json:"external,omitempty"`
}

// NetworkConfig describes a pod's network surface.
type NetworkConfig struct {
	Ports  []PortMapping `json:"ports,omitempty"`
	Egress string        `json:"egress,omitempty"`
}

// ServiceConfig is one enabled service inside a pod.
type ServiceConfig struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Ports       []PortMapping     `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	HealthCheck string            `json:"health_check,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	AutoRestart bool              `json:"auto_restart"`
}

// ProcessConfig is a user-defined application process declared in the
// workspace configuration file, outside the service registry.
type ProcessConfig struct {
	Name         string `json:"name" yaml:"name"`
	DisplayName  string `json:"display_name,omitempty" yaml:"displayName,omitempty"`
	StartCommand string `json:"start_command" yaml:"startCommand"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	HealthCheck  string `json:"health_check,omitempty" yaml:"healthCheck,omitempty"`
}

// PodSpec is the fully resolved, validated description of one pod. It is
// produced by the config resolver and owned by the orchestration layer for
// the pod's lifetime.
type PodSpec struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Template    string            `json:"template,omitempty"`
	BaseImage   string            `json:"base_image"`
	Resources   Resources         `json:"resources"`
	Network     NetworkConfig     `json:"network"`
	Services    []ServiceConfig   `json:"services"`
	Environment map[string]string `json:"environment,omitempty"`
	Secrets     map[string]string `json:"secrets,omitempty"`
	Repository  string            `json:"repository,omitempty"`
	WorkingDir  string            `json:"working_dir"`
	RunAsUser   string            `json:"run_as_user"`
	Install     []string          `json:"install,omitempty"`
	Processes   []ProcessConfig   `json:"processes,omitempty"`
}

// Service returns the named service config, if enabled in the spec.
func (s *PodSpec) Service(name string) (ServiceConfig, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}

// HasService reports whether the named service is part of the spec. Service
// templates use this to vary install steps on co-enabled services.
func (s *PodSpec) HasService(name string) bool {
	_, ok := s.Service(name)
	return ok
}
