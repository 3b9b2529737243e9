package spec

import (
	"fmt"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/registry"
)

// ValidationResult carries every problem found in a spec. Validate never
// fails early so callers can report all of them at once.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks a resolved pod spec. It is pure: no remote calls, no
// registry mutation, and it always returns a result.
func Validate(s domain.PodSpec) ValidationResult {
	var errs []string

	if s.ID == "" {
		errs = append(errs, "spec is missing an id")
	}
	if s.Name == "" {
		errs = append(errs, "spec is missing a name")
	}
	if s.BaseImage == "" {
		errs = append(errs, "spec is missing a base image")
	}

	errs = append(errs, networkPortConflicts(s.Network.Ports)...)
	errs = append(errs, servicePortConflicts(s.Services)...)
	errs = append(errs, resourceLimitViolations(s.Resources)...)
	errs = append(errs, dependencyViolations(s.Services)...)

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// networkPortConflicts finds duplicate internal ports among network-level
// mappings. The network and service port spaces are checked independently.
func networkPortConflicts(ports []domain.PortMapping) []string {
	var errs []string
	seen := make(map[int]int)
	for i, p := range ports {
		if first, ok := seen[p.Internal]; ok {
			errs = append(errs, fmt.Sprintf("network port %d is mapped twice (entries %d and %d)", p.Internal, first, i))
			continue
		}
		seen[p.Internal] = i
	}
	return errs
}

// servicePortConflicts finds two services claiming the same internal port.
// The error names both services so the caller can fix either.
func servicePortConflicts(services []domain.ServiceConfig) []string {
	var errs []string
	owner := make(map[int]string)
	for _, svc := range services {
		for _, p := range svc.Ports {
			if holder, ok := owner[p.Internal]; ok && holder != svc.Name {
				errs = append(errs, fmt.Sprintf("services %q and %q both claim internal port %d", holder, svc.Name, p.Internal))
				continue
			}
			owner[p.Internal] = svc.Name
		}
	}
	return errs
}

// resourceLimitViolations checks the requested allocation against the hard
// ceiling for the declared tier. The ceiling table is intentionally
// distinct from the advertised tier values.
func resourceLimitViolations(res domain.Resources) []string {
	var errs []string
	limit, ok := registry.LookupTierLimit(res.Tier)
	if !ok {
		errs = append(errs, fmt.Sprintf("unknown resource tier %q", res.Tier))
		return errs
	}
	if res.CPUCores > limit.MaxCPUCores {
		errs = append(errs, fmt.Sprintf("cpu request %.2f exceeds tier %q ceiling of %.2f cores", res.CPUCores, res.Tier, limit.MaxCPUCores))
	}
	if res.MemoryGB > limit.MaxMemoryGB {
		errs = append(errs, fmt.Sprintf("memory request %.2fGB exceeds tier %q ceiling of %.2fGB", res.MemoryGB, res.Tier, limit.MaxMemoryGB))
	}
	return errs
}

// dependencyViolations verifies every dependsOn entry names another
// service present in the same spec.
func dependencyViolations(services []domain.ServiceConfig) []string {
	var errs []string
	present := make(map[string]bool, len(services))
	for _, svc := range services {
		present[svc.Name] = true
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !present[dep] {
				errs = append(errs, fmt.Sprintf("service %q depends on %q, which is not part of this spec", svc.Name, dep))
			}
		}
	}
	return errs
}
