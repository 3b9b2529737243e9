package registry

import (
	"testing"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
)

func TestLookupTierUnknownReturnsFalse(t *testing.T) {
	if _, ok := LookupTier("dev.gigantic"); ok {
		t.Fatal("expected unknown tier to miss")
	}
	tier, ok := LookupTier("dev.large")
	if !ok {
		t.Fatal("expected dev.large to resolve")
	}
	if tier.CPUCores != 4 || tier.MemoryGB != 8 {
		t.Fatalf("unexpected dev.large allocation: %+v", tier)
	}
}

func TestEveryTierHasALimitAndPricing(t *testing.T) {
	for _, tier := range Tiers() {
		limit, ok := LookupTierLimit(string(tier.ID))
		if !ok {
			t.Fatalf("tier %s has no resource ceiling", tier.ID)
		}
		if limit.MaxCPUCores < tier.CPUCores || limit.MaxMemoryGB < tier.MemoryGB {
			t.Fatalf("tier %s ceiling below advertised allocation", tier.ID)
		}
		for _, currency := range []Currency{CurrencyUSD, CurrencyEUR, CurrencyBRL} {
			if tier.MonthlyPrice[currency] <= 0 {
				t.Fatalf("tier %s missing %s price", tier.ID, currency)
			}
		}
	}
}

func TestTemplateServicesAreKnown(t *testing.T) {
	for _, tpl := range Templates() {
		if _, ok := LookupTier(string(tpl.DefaultTier)); !ok {
			t.Fatalf("template %s declares unknown tier %s", tpl.ID, tpl.DefaultTier)
		}
		for _, svc := range tpl.Services {
			if _, ok := LookupService(string(svc)); !ok {
				t.Fatalf("template %s declares unknown service %s", tpl.ID, svc)
			}
		}
	}
}

func TestServiceTemplatesDeclareStartAndHealth(t *testing.T) {
	for _, svc := range Services() {
		if svc.StartCommand == nil {
			t.Fatalf("service %s has no start command", svc.ID)
		}
		if argv := svc.StartCommand(domain.PodSpec{WorkingDir: "/workspace"}); len(argv) == 0 {
			t.Fatalf("service %s start command resolved empty", svc.ID)
		}
		if svc.HealthCheckCommand == "" {
			t.Fatalf("service %s has no health check", svc.ID)
		}
		if svc.DefaultPort <= 0 || svc.DefaultPort > 65535 {
			t.Fatalf("service %s default port out of range: %d", svc.ID, svc.DefaultPort)
		}
	}
}

func TestDynamicInstallStepsDependOnCoEnabledServices(t *testing.T) {
	claude := Service(ServiceClaudeCode)

	alone := domain.PodSpec{
		WorkingDir: "/workspace",
		Services:   []domain.ServiceConfig{{Name: string(ServiceClaudeCode), Enabled: true}},
	}
	withTerminal := alone
	withTerminal.Services = append(withTerminal.Services, domain.ServiceConfig{Name: string(ServiceTerminal), Enabled: true})

	stepsAlone := claude.InstallSteps.Resolve(alone)
	stepsShared := claude.InstallSteps.Resolve(withTerminal)
	if len(stepsAlone) <= len(stepsShared) {
		t.Fatalf("expected standalone install to add the terminal dependency: alone=%d shared=%d", len(stepsAlone), len(stepsShared))
	}
}

func TestStepsResolve(t *testing.T) {
	static := StaticSteps("echo one", "echo two")
	if got := static.Resolve(domain.PodSpec{}); len(got) != 2 {
		t.Fatalf("static steps resolved to %d entries", len(got))
	}
	dynamic := DynamicSteps(func(spec domain.PodSpec) []string {
		return []string{"echo " + spec.Name}
	})
	got := dynamic.Resolve(domain.PodSpec{Name: "demo"})
	if len(got) != 1 || got[0] != "echo demo" {
		t.Fatalf("dynamic steps resolved to %v", got)
	}
	if !(Steps{}).IsZero() {
		t.Fatal("zero Steps not reported as zero")
	}
}
