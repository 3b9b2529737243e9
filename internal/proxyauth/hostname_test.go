package proxyauth

import (
	"errors"
	"strings"
	"testing"
)

func TestParseHostnameValid(t *testing.T) {
	target, err := ParseHostname("localhost-8726-pod-myapp.pinacle.dev", "pinacle.dev")
	if err != nil {
		t.Fatalf("ParseHostname returned error: %v", err)
	}
	if target.Port != 8726 || target.Slug != "myapp" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestParseHostnameSlugWithHyphens(t *testing.T) {
	target, err := ParseHostname("localhost-5432-pod-my-cool-app.pinacle.dev", "pinacle.dev")
	if err != nil {
		t.Fatalf("ParseHostname returned error: %v", err)
	}
	if target.Slug != "my-cool-app" {
		t.Fatalf("slug = %q", target.Slug)
	}
}

func TestParseHostnamePortOutOfRange(t *testing.T) {
	for _, host := range []string{
		"localhost-99999-pod-myapp.pinacle.dev",
		"localhost-0-pod-myapp.pinacle.dev",
	} {
		_, err := ParseHostname(host, "pinacle.dev")
		if !errors.Is(err, ErrInvalidHostname) {
			t.Fatalf("ParseHostname(%q) = %v, want ErrInvalidHostname", host, err)
		}
		if !strings.Contains(err.Error(), "port") {
			t.Fatalf("error does not name the port: %v", err)
		}
	}
}

func TestParseHostnameRejectsForeignAndMalformed(t *testing.T) {
	cases := []string{
		"invalid.example.com",
		"pinacle.dev",
		"localhost-8726-pod-.pinacle.dev",
		"localhost--pod-myapp.pinacle.dev",
		"localhost-8726-myapp.pinacle.dev",
		"prefix-localhost-8726-pod-myapp.pinacle.dev",
		"localhost-8726-pod-my_app.pinacle.dev",
	}
	for _, host := range cases {
		if _, err := ParseHostname(host, "pinacle.dev"); !errors.Is(err, ErrInvalidHostname) {
			t.Fatalf("ParseHostname(%q) = %v, want ErrInvalidHostname", host, err)
		}
	}
}

func TestHostnameRoundTrip(t *testing.T) {
	host := Hostname(7681, "demo", "pinacle.dev")
	if host != "localhost-7681-pod-demo.pinacle.dev" {
		t.Fatalf("Hostname = %q", host)
	}
	target, err := ParseHostname(host, "pinacle.dev")
	if err != nil {
		t.Fatalf("ParseHostname returned error: %v", err)
	}
	if target.Port != 7681 || target.Slug != "demo" {
		t.Fatalf("unexpected target: %+v", target)
	}
}
