package spec

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/registry"
)

// FileName is the pod configuration document at the workspace root.
const FileName = "pinacle.yaml"

// FileVersion is the schema version this code reads and writes.
const FileVersion = "1"

// StringList accepts either a single string or a list of strings in YAML,
// matching how the `install` field is written by hand.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
		return nil
	default:
		return fmt.Errorf("install must be a string or a list of strings")
	}
}

// File is the versioned pod configuration document. The orchestrator reads
// it to pre-populate a spec when a repository carries one, and writes it to
// reflect the resolved configuration back into the workspace.
type File struct {
	Version   string                 `yaml:"version"`
	Name      string                 `yaml:"name"`
	Template  string                 `yaml:"template,omitempty"`
	Tier      string                 `yaml:"tier,omitempty"`
	Services  []string               `yaml:"services,omitempty"`
	Install   StringList             `yaml:"install,omitempty"`
	Processes []domain.ProcessConfig `yaml:"processes,omitempty"`
}

// LoadFile reads pinacle.yaml from dir.
func LoadFile(dir string) (*File, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("reading pod config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing pod config: %w", err)
	}
	return &f, nil
}

// FileExists reports whether dir carries a pod configuration document.
func FileExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// SaveFile writes the document to dir.
func SaveFile(dir string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling pod config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0o644)
}

// Check validates the document's references against the registries.
// Unknown entries are input errors for the caller to report.
func (f *File) Check() []string {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "pod config is missing a name")
	}
	if f.Tier != "" {
		if _, ok := registry.LookupTier(f.Tier); !ok {
			errs = append(errs, fmt.Sprintf("unknown tier %q", f.Tier))
		}
	}
	for _, id := range f.Services {
		if _, ok := registry.LookupService(id); !ok {
			errs = append(errs, fmt.Sprintf("unknown service %q", id))
		}
	}
	for i, p := range f.Processes {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("process %d is missing a name", i))
		}
		if p.StartCommand == "" {
			errs = append(errs, fmt.Sprintf("process %q is missing a start command", p.Name))
		}
	}
	return errs
}

// Overrides converts the document into a partial spec for the resolver.
func (f *File) Overrides(r Resolver) domain.PodSpec {
	return domain.PodSpec{
		Name:      f.Name,
		Template:  f.Template,
		Resources: domain.Resources{Tier: f.Tier},
		Services:  r.ExpandServices(f.Services),
		Install:   []string(f.Install),
		Processes: append([]domain.ProcessConfig(nil), f.Processes...),
	}
}

// FileFromSpec reflects a resolved spec back into the workspace document.
func FileFromSpec(s domain.PodSpec) *File {
	services := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		if svc.Enabled {
			services = append(services, svc.Name)
		}
	}
	return &File{
		Version:   FileVersion,
		Name:      s.Name,
		Template:  s.Template,
		Tier:      s.Resources.Tier,
		Services:  services,
		Install:   StringList(s.Install),
		Processes: append([]domain.ProcessConfig(nil), s.Processes...),
	}
}
