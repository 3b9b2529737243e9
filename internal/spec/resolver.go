package spec

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/registry"
)

// ErrTemplateNotFound indicates the caller named a template the registry
// does not know. This is user input validation, not a system fault.
var ErrTemplateNotFound = errors.New("spec: template not found")

// DefaultWorkingDir is where a pod's repository is checked out.
const DefaultWorkingDir = "/workspace"

// DefaultRunAsUser is the user services run as inside the container.
const DefaultRunAsUser = "root"

// Resolver turns a template id plus caller overrides into a fully
// populated pod spec.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger) Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return Resolver{logger: logger}
}

// Resolve builds a pod spec. templateID may be empty (overrides only);
// overrides may be nil (template defaults only). Missing required fields
// that have hard defaults are filled; identity fields are left for the
// caller and checked by Validate.
func (r Resolver) Resolve(templateID string, overrides *domain.PodSpec) (domain.PodSpec, error) {
	var base domain.PodSpec
	if templateID != "" {
		tpl, ok := registry.LookupTemplate(templateID)
		if !ok {
			return domain.PodSpec{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
		}
		base = r.expandTemplate(tpl)
	}

	merged := mergeSpecs(base, overrides)
	r.applyDefaults(&merged)
	return merged, nil
}

// ExpandServices maps registry service ids into service configs with the
// template's declared defaults. Unknown ids are dropped with a warning.
func (r Resolver) ExpandServices(ids []string) []domain.ServiceConfig {
	out := make([]domain.ServiceConfig, 0, len(ids))
	for _, id := range ids {
		tpl, ok := registry.LookupService(id)
		if !ok {
			r.logger.Warn("dropping unknown service id", "service", id)
			continue
		}
		out = append(out, domain.ServiceConfig{
			Name:        string(tpl.ID),
			Enabled:     true,
			Ports:       []domain.PortMapping{{Name: string(tpl.ID), Internal: tpl.DefaultPort}},
			Environment: cloneMap(tpl.Environment),
			HealthCheck: tpl.HealthCheckCommand,
			AutoRestart: true,
		})
	}
	return out
}

func (r Resolver) expandTemplate(tpl registry.PodTemplate) domain.PodSpec {
	ids := make([]string, 0, len(tpl.Services))
	for _, id := range tpl.Services {
		ids = append(ids, string(id))
	}

	ports := make([]domain.PortMapping, 0, len(tpl.DefaultPorts))
	for _, p := range tpl.DefaultPorts {
		ports = append(ports, domain.PortMapping{Internal: p})
	}

	return domain.PodSpec{
		Template:    string(tpl.ID),
		BaseImage:   tpl.BaseImage,
		Resources:   domain.Resources{Tier: string(tpl.DefaultTier)},
		Network:     domain.NetworkConfig{Ports: ports},
		Services:    r.ExpandServices(ids),
		Environment: cloneMap(tpl.Environment),
		Install:     append([]string(nil), tpl.Install...),
		Processes:   append([]domain.ProcessConfig(nil), tpl.DefaultProcesses...),
	}
}

func (r Resolver) applyDefaults(s *domain.PodSpec) {
	if s.Resources.Tier == "" {
		s.Resources.Tier = string(registry.DefaultTier)
	}
	if tier, ok := registry.LookupTier(s.Resources.Tier); ok {
		if s.Resources.CPUCores == 0 {
			s.Resources.CPUCores = tier.CPUCores
		}
		if s.Resources.MemoryGB == 0 {
			s.Resources.MemoryGB = tier.MemoryGB
		}
		if s.Resources.StorageGB == 0 {
			s.Resources.StorageGB = tier.StorageGB
		}
	}
	if s.BaseImage == "" {
		s.BaseImage = registry.DefaultBaseImage
	}
	if s.WorkingDir == "" {
		s.WorkingDir = DefaultWorkingDir
	}
	if s.RunAsUser == "" {
		s.RunAsUser = DefaultRunAsUser
	}
}

// mergeSpecs deep-merges overrides into base. Scalars are override-wins
// when set; the services list is override-wins only when non-empty (an
// explicit empty list is not "no services"); maps merge key by key with
// override precedence.
func mergeSpecs(base domain.PodSpec, overrides *domain.PodSpec) domain.PodSpec {
	if overrides == nil {
		return base
	}
	out := base

	out.ID = pickString(overrides.ID, base.ID)
	out.Name = pickString(overrides.Name, base.Name)
	out.Slug = pickString(overrides.Slug, base.Slug)
	out.Template = pickString(overrides.Template, base.Template)
	out.BaseImage = pickString(overrides.BaseImage, base.BaseImage)
	out.Repository = pickString(overrides.Repository, base.Repository)
	out.WorkingDir = pickString(overrides.WorkingDir, base.WorkingDir)
	out.RunAsUser = pickString(overrides.RunAsUser, base.RunAsUser)

	out.Resources.Tier = pickString(overrides.Resources.Tier, base.Resources.Tier)
	if overrides.Resources.CPUCores != 0 {
		out.Resources.CPUCores = overrides.Resources.CPUCores
	}
	if overrides.Resources.MemoryGB != 0 {
		out.Resources.MemoryGB = overrides.Resources.MemoryGB
	}
	if overrides.Resources.StorageGB != 0 {
		out.Resources.StorageGB = overrides.Resources.StorageGB
	}

	if len(overrides.Network.Ports) > 0 {
		out.Network.Ports = overrides.Network.Ports
	}
	out.Network.Egress = pickString(overrides.Network.Egress, base.Network.Egress)

	if len(overrides.Services) > 0 {
		out.Services = overrides.Services
	}
	if len(overrides.Install) > 0 {
		out.Install = overrides.Install
	}
	if len(overrides.Processes) > 0 {
		out.Processes = overrides.Processes
	}

	out.Environment = mergeMaps(base.Environment, overrides.Environment)
	out.Secrets = mergeMaps(base.Secrets, overrides.Secrets)
	return out
}

func pickString(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

func mergeMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
