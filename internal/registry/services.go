package registry

import (
	"fmt"
	"time"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
)

// ServiceID identifies an installable service template.
type ServiceID string

const (
	ServiceCodeServer ServiceID = "code-server"
	ServiceTerminal   ServiceID = "ttyd"
	ServiceClaudeCode ServiceID = "claude-code"
	ServiceAider      ServiceID = "aider"
	ServiceKanban     ServiceID = "vibe-kanban"
	ServicePostgres   ServiceID = "postgres"
	ServiceRedis      ServiceID = "redis"
)

// AssistantServices lists the coding-assistant variants. At most one of
// these should be enabled per pod; the resolver and dashboard enforce it,
// the registry does not.
var AssistantServices = []ServiceID{ServiceClaudeCode, ServiceAider}

// Steps is either a literal list of shell commands or a function that
// produces one from the resolved pod spec. Exactly one side is set.
type Steps struct {
	Static []string
	Build  func(spec domain.PodSpec) []string
}

// StaticSteps wraps literal commands.
func StaticSteps(lines ...string) Steps {
	return Steps{Static: lines}
}

// DynamicSteps wraps a step-producing function.
func DynamicSteps(fn func(spec domain.PodSpec) []string) Steps {
	return Steps{Build: fn}
}

// Resolve materializes the steps for a given spec.
func (s Steps) Resolve(spec domain.PodSpec) []string {
	if s.Build != nil {
		return s.Build(spec)
	}
	return s.Static
}

// IsZero reports whether no steps are declared.
func (s Steps) IsZero() bool {
	return s.Build == nil && len(s.Static) == 0
}

// ServiceTemplate describes how one tool is installed, started, and
// supervised inside a pod's container.
type ServiceTemplate struct {
	ID                    ServiceID
	DisplayName           string
	InstallSteps          Steps
	StartCommand          func(spec domain.PodSpec) []string
	CleanupSteps          []string
	HealthCheckCommand    string
	DefaultPort           int
	Environment           map[string]string
	RequiredEnvVars       []string
	PostStartSteps        Steps
	HealthCheckStartDelay time.Duration
}

var services = map[ServiceID]ServiceTemplate{
	ServiceCodeServer: {
		ID:          ServiceCodeServer,
		DisplayName: "VS Code (code-server)",
		InstallSteps: StaticSteps(
			"curl -fsSL https://code-server.dev/install.sh | sh",
			"mkdir -p /root/.local/share/code-server",
		),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"code-server", "--bind-addr", "0.0.0.0:8726", "--auth", "none", "--disable-telemetry", spec.WorkingDir}
		},
		HealthCheckCommand: "curl -sf http://127.0.0.1:8726/healthz",
		DefaultPort:        8726,
		Environment:        map[string]string{"SHELL": "/bin/bash"},
	},
	ServiceTerminal: {
		ID:          ServiceTerminal,
		DisplayName: "Terminal",
		InstallSteps: StaticSteps(
			"apk add --no-cache ttyd || apt-get install -y ttyd",
		),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"ttyd", "--port", "7681", "--writable", "-t", "cwd=" + spec.WorkingDir, "bash"}
		},
		HealthCheckCommand: "curl -sf http://127.0.0.1:7681/",
		DefaultPort:        7681,
	},
	ServiceClaudeCode: {
		ID:          ServiceClaudeCode,
		DisplayName: "Claude Code",
		InstallSteps: DynamicSteps(func(spec domain.PodSpec) []string {
			steps := []string{
				"npm install -g @anthropic-ai/claude-code",
			}
			// The assistant runs inside a dedicated web terminal; reuse the
			// shared ttyd install only when the terminal service is absent.
			if !spec.HasService(string(ServiceTerminal)) {
				steps = append(steps, "apk add --no-cache ttyd || apt-get install -y ttyd")
			}
			if spec.Repository != "" {
				steps = append(steps, fmt.Sprintf("git config --global --add safe.directory %s", spec.WorkingDir))
			}
			return steps
		}),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"ttyd", "--port", "7682", "--writable", "-t", "cwd=" + spec.WorkingDir, "claude"}
		},
		CleanupSteps:          []string{"pkill -f 'ttyd --port 7682' || true"},
		HealthCheckCommand:    "curl -sf http://127.0.0.1:7682/",
		DefaultPort:           7682,
		RequiredEnvVars:       []string{"ANTHROPIC_API_KEY"},
		HealthCheckStartDelay: 3 * time.Second,
	},
	ServiceAider: {
		ID:          ServiceAider,
		DisplayName: "Aider",
		InstallSteps: DynamicSteps(func(spec domain.PodSpec) []string {
			steps := []string{
				"python3 -m pip install --break-system-packages aider-install",
				"aider-install",
			}
			if !spec.HasService(string(ServiceTerminal)) {
				steps = append(steps, "apk add --no-cache ttyd || apt-get install -y ttyd")
			}
			return steps
		}),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"ttyd", "--port", "7683", "--writable", "-t", "cwd=" + spec.WorkingDir, "aider"}
		},
		CleanupSteps:          []string{"pkill -f 'ttyd --port 7683' || true"},
		HealthCheckCommand:    "curl -sf http://127.0.0.1:7683/",
		DefaultPort:           7683,
		RequiredEnvVars:       []string{"OPENAI_API_KEY"},
		HealthCheckStartDelay: 3 * time.Second,
	},
	ServiceKanban: {
		ID:          ServiceKanban,
		DisplayName: "Vibe Kanban",
		InstallSteps: StaticSteps(
			"npm install -g vibe-kanban",
		),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"vibe-kanban", "--host", "0.0.0.0", "--port", "5262"}
		},
		HealthCheckCommand:    "curl -sf http://127.0.0.1:5262/",
		DefaultPort:           5262,
		Environment:           map[string]string{"VK_DATA_DIR": "/workspace/.vibe-kanban"},
		HealthCheckStartDelay: 5 * time.Second,
	},
	ServicePostgres: {
		ID:          ServicePostgres,
		DisplayName: "PostgreSQL",
		InstallSteps: StaticSteps(
			"apt-get update && apt-get install -y postgresql postgresql-contrib",
			"mkdir -p /var/lib/postgresql/data && chown postgres:postgres /var/lib/postgresql/data",
		),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"su", "postgres", "-c", "postgres -D /var/lib/postgresql/data -h 0.0.0.0"}
		},
		PostStartSteps: StaticSteps(
			"su postgres -c 'createdb app || true'",
		),
		HealthCheckCommand:    "pg_isready -h 127.0.0.1",
		DefaultPort:           5432,
		HealthCheckStartDelay: 3 * time.Second,
	},
	ServiceRedis: {
		ID:          ServiceRedis,
		DisplayName: "Redis",
		InstallSteps: StaticSteps(
			"apt-get update && apt-get install -y redis-server",
		),
		StartCommand: func(spec domain.PodSpec) []string {
			return []string{"redis-server", "--bind", "0.0.0.0", "--port", "6379"}
		},
		HealthCheckCommand: "redis-cli -h 127.0.0.1 ping",
		DefaultPort:        6379,
	},
}

// Service returns the template for a known id.
func Service(id ServiceID) ServiceTemplate {
	return services[id]
}

// LookupService resolves an arbitrary string id.
func LookupService(id string) (ServiceTemplate, bool) {
	t, ok := services[ServiceID(id)]
	return t, ok
}

// Services lists all known service templates. Order is not significant.
func Services() []ServiceTemplate {
	out := make([]ServiceTemplate, 0, len(services))
	for _, t := range services {
		out = append(out, t)
	}
	return out
}
