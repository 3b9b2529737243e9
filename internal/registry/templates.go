package registry

import (
	"fmt"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
)

// TemplateID identifies a pod template.
type TemplateID string

const (
	TemplateVite   TemplateID = "vite"
	TemplateNextJS TemplateID = "nextjs"
	TemplateNode   TemplateID = "node"
	TemplatePython TemplateID = "python"
	TemplateBlank  TemplateID = "blank"
)

// DefaultBaseImage backs pods whose template declares no image.
const DefaultBaseImage = "pinacle/workspace-base:latest"

// PodTemplate is a named bundle of default services, tier, and
// initialization steps used to seed a new pod.
type PodTemplate struct {
	ID               TemplateID
	Name             string
	Description      string
	BaseImage        string
	DefaultTier      TierID
	Services         []ServiceID
	DefaultPorts     []int
	Environment      map[string]string
	Install          []string
	DefaultProcesses []domain.ProcessConfig
	// InitScript runs once when the pod's workspace is first created.
	InitScript Steps
}

var templates = map[TemplateID]PodTemplate{
	TemplateVite: {
		ID:           TemplateVite,
		Name:         "Vite",
		Description:  "Vite + React frontend workspace",
		BaseImage:    "pinacle/workspace-node:latest",
		DefaultTier:  TierSmall,
		Services:     []ServiceID{ServiceCodeServer, ServiceTerminal, ServiceClaudeCode},
		DefaultPorts: []int{5173},
		Environment:  map[string]string{"NODE_ENV": "development"},
		Install:      []string{"npm install"},
		DefaultProcesses: []domain.ProcessConfig{
			{Name: "dev", DisplayName: "Dev server", StartCommand: "npm run dev -- --host 0.0.0.0", URL: "http://localhost:5173", HealthCheck: "curl -sf http://127.0.0.1:5173/"},
		},
		InitScript: DynamicSteps(func(spec domain.PodSpec) []string {
			if spec.Repository != "" {
				return nil
			}
			return []string{fmt.Sprintf("cd %s && npm create vite@latest . -- --template react-ts --yes", spec.WorkingDir)}
		}),
	},
	TemplateNextJS: {
		ID:           TemplateNextJS,
		Name:         "Next.js",
		Description:  "Next.js full-stack workspace",
		BaseImage:    "pinacle/workspace-node:latest",
		DefaultTier:  TierMedium,
		Services:     []ServiceID{ServiceCodeServer, ServiceTerminal, ServiceClaudeCode, ServicePostgres},
		DefaultPorts: []int{3000},
		Environment:  map[string]string{"NODE_ENV": "development"},
		Install:      []string{"npm install"},
		DefaultProcesses: []domain.ProcessConfig{
			{Name: "dev", DisplayName: "Dev server", StartCommand: "npm run dev", URL: "http://localhost:3000", HealthCheck: "curl -sf http://127.0.0.1:3000/"},
		},
		InitScript: DynamicSteps(func(spec domain.PodSpec) []string {
			if spec.Repository != "" {
				return nil
			}
			return []string{fmt.Sprintf("cd %s && npx create-next-app@latest . --ts --use-npm --yes", spec.WorkingDir)}
		}),
	},
	TemplateNode: {
		ID:           TemplateNode,
		Name:         "Node.js",
		Description:  "Plain Node.js backend workspace",
		BaseImage:    "pinacle/workspace-node:latest",
		DefaultTier:  TierSmall,
		Services:     []ServiceID{ServiceCodeServer, ServiceTerminal},
		DefaultPorts: []int{3000},
		Install:      []string{"npm install"},
	},
	TemplatePython: {
		ID:           TemplatePython,
		Name:         "Python",
		Description:  "Python workspace with uv",
		BaseImage:    "pinacle/workspace-python:latest",
		DefaultTier:  TierSmall,
		Services:     []ServiceID{ServiceCodeServer, ServiceTerminal, ServiceAider},
		DefaultPorts: []int{8000},
		Install:      []string{"test -f requirements.txt && pip install -r requirements.txt || true"},
	},
	TemplateBlank: {
		ID:          TemplateBlank,
		Name:        "Blank",
		Description: "Empty workspace, editor and terminal only",
		BaseImage:   DefaultBaseImage,
		DefaultTier: TierSmall,
		Services:    []ServiceID{ServiceCodeServer, ServiceTerminal},
	},
}

// Template returns the pod template for a known id.
func Template(id TemplateID) PodTemplate {
	return templates[id]
}

// LookupTemplate resolves an arbitrary string id, typically from a request.
func LookupTemplate(id string) (PodTemplate, bool) {
	t, ok := templates[TemplateID(id)]
	return t, ok
}

// Templates lists all known pod templates. Order is not significant.
func Templates() []PodTemplate {
	out := make([]PodTemplate, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	return out
}
