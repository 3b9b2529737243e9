package provision

import (
	"strings"
	"testing"
)

func TestValidateServiceName(t *testing.T) {
	valid := []string{"code-server", "ttyd", "vibe-kanban", "web2"}
	for _, name := range valid {
		if err := ValidateServiceName(name); err != nil {
			t.Errorf("ValidateServiceName(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "Code-Server", "web server", "a;b", "../etc", "$(reboot)", "a'b"}
	for _, name := range invalid {
		if err := ValidateServiceName(name); err == nil {
			t.Errorf("ValidateServiceName(%q) = nil, want error", name)
		}
	}
}

func TestRenderUnitBasics(t *testing.T) {
	unit := renderUnit(unitSpec{
		Name:         "code-server",
		DisplayName:  "VS Code (code-server)",
		WorkingDir:   "/workspace",
		StartCommand: []string{"code-server", "--bind-addr", "0.0.0.0:8726"},
		Environment:  map[string]string{"SHELL": "/bin/bash", "API_KEY": "it's secret"},
	})

	for _, want := range []string{
		"#!/sbin/openrc-run",
		"name='code-server'",
		"description='VS Code (code-server)'",
		"command='code-server'",
		"command_args=''\\''--bind-addr'\\'' '\\''0.0.0.0:8726'\\'''",
		"directory='/workspace'",
		"command_background=\"yes\"",
		"pidfile='/run/pinacle/code-server.pid'",
		"output_log='/var/log/pinacle/code-server.log'",
		"error_log='/var/log/pinacle/code-server.err.log'",
		"need net",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}

	// Env exports are sorted and shell-quoted.
	apiIdx := strings.Index(unit, "export API_KEY='it'\\''s secret'")
	shellIdx := strings.Index(unit, "export SHELL='/bin/bash'")
	if apiIdx == -1 || shellIdx == -1 || apiIdx > shellIdx {
		t.Errorf("env exports missing or unsorted:\n%s", unit)
	}
}

func TestRenderUnitCleanupGuardedByPidfile(t *testing.T) {
	unit := renderUnit(unitSpec{
		Name:         "claude-code",
		StartCommand: []string{"ttyd", "claude"},
		CleanupSteps: []string{"pkill -f 'ttyd --port 7682' || true"},
	})

	stopPre := unit[strings.Index(unit, "stop_pre()"):]
	if !strings.Contains(stopPre, "if [ -f '/run/pinacle/claude-code.pid' ]; then") {
		t.Fatalf("cleanup not guarded by pidfile check:\n%s", stopPre)
	}
	if !strings.Contains(stopPre, "pkill -f 'ttyd --port 7682' || true") {
		t.Fatalf("cleanup step missing:\n%s", stopPre)
	}
}

func TestWriteUnitScriptHeredoc(t *testing.T) {
	content := renderUnit(unitSpec{Name: "redis", StartCommand: []string{"redis-server"}})
	script := writeUnitScript("redis", content)

	if !strings.Contains(script, "cat > /etc/init.d/redis << 'PINACLE_UNIT_EOF'") {
		t.Fatalf("heredoc delimiter not quoted:\n%s", script)
	}
	if !strings.HasSuffix(strings.TrimSpace(script), "chmod +x /etc/init.d/redis") {
		t.Fatalf("script does not end with chmod:\n%s", script)
	}
	if !strings.Contains(script, "mkdir -p /etc/init.d /run/pinacle /var/log/pinacle") {
		t.Fatalf("script does not create directories:\n%s", script)
	}
}
