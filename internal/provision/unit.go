package provision

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
)

const (
	initDir = "/etc/init.d"
	pidDir  = "/run/pinacle"
	logDir  = "/var/log/pinacle"
)

// serviceNamePattern is the allow-list for identifiers interpolated into
// unit scripts. Anything else is rejected before a remote call is made,
// closing off command injection through service names.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateServiceName rejects names outside the allow-list.
func ValidateServiceName(name string) error {
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (only lowercase alphanumerics and hyphens)", ErrInvalidServiceName, name)
	}
	return nil
}

// unitSpec is everything needed to render one supervisor unit.
type unitSpec struct {
	Name         string
	DisplayName  string
	WorkingDir   string
	StartCommand []string
	Environment  map[string]string
	CleanupSteps []string
}

// renderUnit synthesizes an OpenRC service script: background execution,
// pidfile, log redirection, a network dependency, and a pre-stop hook
// running cleanup when a pidfile exists.
func renderUnit(u unitSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/sbin/openrc-run\n\n")
	fmt.Fprintf(&b, "name=%s\n", remote.ShellQuote(u.Name))
	if u.DisplayName != "" {
		fmt.Fprintf(&b, "description=%s\n", remote.ShellQuote(u.DisplayName))
	}

	keys := make([]string, 0, len(u.Environment))
	for k := range u.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, remote.ShellQuote(u.Environment[k]))
	}

	fmt.Fprintf(&b, "\ncommand=%s\n", remote.ShellQuote(u.StartCommand[0]))
	if len(u.StartCommand) > 1 {
		fmt.Fprintf(&b, "command_args=%s\n", remote.ShellQuote(remote.JoinArgs(u.StartCommand[1:])))
	}
	if u.WorkingDir != "" {
		fmt.Fprintf(&b, "directory=%s\n", remote.ShellQuote(u.WorkingDir))
	}
	fmt.Fprintf(&b, "command_background=\"yes\"\n")
	fmt.Fprintf(&b, "pidfile=%s\n", remote.ShellQuote(pidFile(u.Name)))
	fmt.Fprintf(&b, "output_log=%s\n", remote.ShellQuote(logFile(u.Name)))
	fmt.Fprintf(&b, "error_log=%s\n", remote.ShellQuote(errLogFile(u.Name)))

	b.WriteString("\ndepend() {\n\tneed net\n}\n")
	fmt.Fprintf(&b, "\nstart_pre() {\n\tmkdir -p %s %s\n}\n", pidDir, logDir)

	b.WriteString("\nstop_pre() {\n")
	fmt.Fprintf(&b, "\tif [ -f %s ]; then\n", remote.ShellQuote(pidFile(u.Name)))
	if len(u.CleanupSteps) == 0 {
		b.WriteString("\t\ttrue\n")
	}
	for _, step := range u.CleanupSteps {
		fmt.Fprintf(&b, "\t\t%s\n", step)
	}
	b.WriteString("\tfi\n}\n")
	return b.String()
}

// writeUnitScript is the single remote write that installs a unit: a
// heredoc into the init directory followed by chmod. The heredoc
// delimiter is quoted so unit content is never expanded by the shell.
func writeUnitScript(name, content string) string {
	path := unitPath(name)
	return fmt.Sprintf("mkdir -p %s %s %s && cat > %s << 'PINACLE_UNIT_EOF'\n%s\nPINACLE_UNIT_EOF\nchmod +x %s", initDir, pidDir, logDir, path, strings.TrimRight(content, "\n"), path)
}

func unitPath(name string) string {
	return initDir + "/" + name
}

func pidFile(name string) string {
	return pidDir + "/" + name + ".pid"
}

func logFile(name string) string {
	return logDir + "/" + name + ".log"
}

func errLogFile(name string) string {
	return logDir + "/" + name + ".err.log"
}
