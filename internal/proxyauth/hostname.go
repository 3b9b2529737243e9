package proxyauth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidHostname indicates a proxy hostname outside the convention.
var ErrInvalidHostname = errors.New("invalid proxy hostname")

// Target is the pod service a proxy hostname addresses.
type Target struct {
	Port int
	Slug string
}

// hostnamePattern captures the port and slug out of the subdomain label.
// The convention is localhost-{port}-pod-{slug}.{domain}.
var hostnamePattern = regexp.MustCompile(`^localhost-([0-9]+)-pod-([a-z0-9-]+)$`)

// ParseHostname extracts the target port and pod slug from a proxy
// hostname. The domain suffix must match exactly; anything that does not
// follow the convention is rejected with a reason.
func ParseHostname(hostname, domain string) (Target, error) {
	host := strings.ToLower(strings.TrimSuffix(hostname, "."))
	suffix := "." + strings.ToLower(domain)
	if !strings.HasSuffix(host, suffix) {
		return Target{}, fmt.Errorf("%w: %q is not under %s", ErrInvalidHostname, hostname, domain)
	}

	label := strings.TrimSuffix(host, suffix)
	m := hostnamePattern.FindStringSubmatch(label)
	if m == nil {
		return Target{}, fmt.Errorf("%w: %q does not match localhost-{port}-pod-{slug}", ErrInvalidHostname, label)
	}

	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("%w: port %q out of range 1-65535", ErrInvalidHostname, m[1])
	}
	return Target{Port: port, Slug: m[2]}, nil
}

// Hostname renders the proxy hostname for a pod service.
func Hostname(port int, slug, domain string) string {
	return fmt.Sprintf("localhost-%d-pod-%s.%s", port, slug, domain)
}
