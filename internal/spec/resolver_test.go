package spec

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/registry"
)

func testResolver() Resolver {
	return NewResolver(slog.New(slog.DiscardHandler))
}

func TestResolveUnknownTemplate(t *testing.T) {
	_, err := testResolver().Resolve("laravel", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestResolveTemplateDefaults(t *testing.T) {
	for _, tpl := range registry.Templates() {
		got, err := testResolver().Resolve(string(tpl.ID), nil)
		if err != nil {
			t.Fatalf("Resolve(%s) returned error: %v", tpl.ID, err)
		}
		if got.Resources.Tier != string(tpl.DefaultTier) {
			t.Fatalf("template %s: tier %q, want %q", tpl.ID, got.Resources.Tier, tpl.DefaultTier)
		}
		if len(got.Services) != len(tpl.Services) {
			t.Fatalf("template %s: %d services resolved, template declares %d known ids", tpl.ID, len(got.Services), len(tpl.Services))
		}
		declared := make(map[string]bool)
		for _, id := range tpl.Services {
			declared[string(id)] = true
		}
		for _, svc := range got.Services {
			if !declared[svc.Name] {
				t.Fatalf("template %s: resolved service %q not declared by template", tpl.ID, svc.Name)
			}
			if !svc.Enabled || !svc.AutoRestart {
				t.Fatalf("template %s: service %q should default to enabled with restart", tpl.ID, svc.Name)
			}
			if len(svc.Ports) != 1 {
				t.Fatalf("template %s: service %q should get exactly one default port", tpl.ID, svc.Name)
			}
		}
		if got.WorkingDir != DefaultWorkingDir || got.RunAsUser != DefaultRunAsUser {
			t.Fatalf("template %s: defaults not applied: %+v", tpl.ID, got)
		}
	}
}

func TestResolveTierOverrideKeepsServices(t *testing.T) {
	got, err := testResolver().Resolve("vite", &domain.PodSpec{
		Resources: domain.Resources{Tier: "dev.large"},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got.Resources.Tier != "dev.large" {
		t.Fatalf("tier override lost: %q", got.Resources.Tier)
	}
	vite := registry.Template(registry.TemplateVite)
	if len(got.Services) != len(vite.Services) {
		t.Fatalf("service list changed by tier override: %d vs %d", len(got.Services), len(vite.Services))
	}
	// Explicit resource values come from the overridden tier.
	large := registry.Tier(registry.TierLarge)
	if got.Resources.CPUCores != large.CPUCores || got.Resources.MemoryGB != large.MemoryGB {
		t.Fatalf("explicit resources not filled from dev.large: %+v", got.Resources)
	}
}

func TestResolveEmptyServiceOverrideKeepsTemplateServices(t *testing.T) {
	got, err := testResolver().Resolve("vite", &domain.PodSpec{Services: []domain.ServiceConfig{}})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got.Services) == 0 {
		t.Fatal("explicit empty services override must not clear the template's services")
	}
}

func TestResolveNonEmptyServiceOverrideWins(t *testing.T) {
	got, err := testResolver().Resolve("vite", &domain.PodSpec{
		Services: []domain.ServiceConfig{{Name: "code-server", Enabled: true}},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got.Services) != 1 || got.Services[0].Name != "code-server" {
		t.Fatalf("override service list not taken: %+v", got.Services)
	}
}

func TestResolveEnvironmentMergesKeyByKey(t *testing.T) {
	got, err := testResolver().Resolve("vite", &domain.PodSpec{
		Environment: map[string]string{"NODE_ENV": "test", "EXTRA": "1"},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got.Environment["NODE_ENV"] != "test" {
		t.Fatalf("override value lost: %q", got.Environment["NODE_ENV"])
	}
	if got.Environment["EXTRA"] != "1" {
		t.Fatal("override-only key lost")
	}
}

func TestResolveWithoutTemplateUsesHardDefaults(t *testing.T) {
	got, err := testResolver().Resolve("", &domain.PodSpec{Name: "bare"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got.Resources.Tier != string(registry.DefaultTier) {
		t.Fatalf("default tier not applied: %q", got.Resources.Tier)
	}
	if got.BaseImage != registry.DefaultBaseImage {
		t.Fatalf("default base image not applied: %q", got.BaseImage)
	}
	if got.WorkingDir != DefaultWorkingDir || got.RunAsUser != DefaultRunAsUser {
		t.Fatalf("hard defaults not applied: %+v", got)
	}
}

func TestExpandServicesDropsUnknownIDs(t *testing.T) {
	got := testResolver().ExpandServices([]string{"code-server", "emacs-daemon"})
	if len(got) != 1 || got[0].Name != "code-server" {
		t.Fatalf("expected only the known service to survive: %+v", got)
	}
}
