package proxytoken

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestGenerateVerifyRoundTrip(t *testing.T) {
	token, err := Generate("user-1", "pod-1", "myapp", 8726, testSecret)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	payload := Verify(token, testSecret)
	if payload == nil {
		t.Fatal("Verify returned nil for a freshly minted token")
	}
	if payload.UserID != "user-1" || payload.PodID != "pod-1" || payload.PodSlug != "myapp" || payload.TargetPort != 8726 {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	if payload.IssuedAt.IsZero() || payload.ExpiresAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", payload)
	}
	if got := payload.ExpiresAt.Sub(payload.IssuedAt); got != TokenTTL {
		t.Fatalf("expected ttl %v, got %v", TokenTTL, got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Generate("user-1", "pod-1", "myapp", 8080, testSecret)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if Verify(token, "other-secret") != nil {
		t.Fatal("Verify accepted a token signed with a different secret")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	token, err := Generate("user-1", "pod-1", "myapp", 8080, testSecret)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three JWT segments, got %d", len(parts))
	}

	// Flip a single byte in the payload segment; the signature must no
	// longer match regardless of which byte changed.
	body := []byte(parts[1])
	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		forged := parts[0] + "." + string(mutated) + "." + parts[2]
		if Verify(forged, testSecret) != nil {
			t.Fatalf("Verify accepted token with payload byte %d mutated", i)
		}
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if Verify(token, testSecret) != nil {
			t.Fatalf("Verify accepted %q", token)
		}
	}
}

func TestExpiringSoon(t *testing.T) {
	fresh := Payload{ExpiresAt: time.Now().Add(TokenTTL)}
	if ExpiringSoon(fresh) {
		t.Fatal("fresh token reported as expiring soon")
	}
	stale := Payload{ExpiresAt: time.Now().Add(2 * time.Minute)}
	if !ExpiringSoon(stale) {
		t.Fatal("token with 2m left not reported as expiring soon")
	}
	expired := Payload{ExpiresAt: time.Now().Add(-time.Minute)}
	if !ExpiringSoon(expired) {
		t.Fatal("expired token not reported as expiring soon")
	}
}
