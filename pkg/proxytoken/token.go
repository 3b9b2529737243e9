package proxytoken

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	// TokenTTL is the lifetime of a proxy token. Tokens are minted per
	// browser navigation and refreshed by the client, so this stays short.
	TokenTTL = 10 * time.Minute

	// RefreshThreshold is how close to expiry a token may get before the
	// client should silently request a new one.
	RefreshThreshold = 5 * time.Minute
)

// Payload is the verified content of a proxy token. It grants one user
// access to one port of one pod until ExpiresAt.
type Payload struct {
	UserID     string
	PodID      string
	PodSlug    string
	TargetPort int
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type claims struct {
	UserID     string `json:"user_id"`
	PodID      string `json:"pod_id"`
	PodSlug    string `json:"pod_slug"`
	TargetPort int    `json:"target_port"`
	jwtlib.RegisteredClaims
}

// Generate issues a signed proxy token scoped to a single pod/port pair.
func Generate(userID, podID, podSlug string, targetPort int, secret string) (string, error) {
	now := time.Now()
	c := claims{
		UserID:     userID,
		PodID:      podID,
		PodSlug:    podSlug,
		TargetPort: targetPort,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "pinacle-proxy",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c)
	return token.SignedString([]byte(secret))
}

// Verify validates a proxy token and returns its payload. It returns nil
// for malformed, tampered, or expired tokens; it never panics. Callers
// must treat a nil payload as access denied.
func Verify(token, secret string) *Payload {
	parsed, err := jwtlib.ParseWithClaims(token, &claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil
	}
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return nil
	}
	return &Payload{
		UserID:     c.UserID,
		PodID:      c.PodID,
		PodSlug:    c.PodSlug,
		TargetPort: c.TargetPort,
		IssuedAt:   c.IssuedAt.Time,
		ExpiresAt:  c.ExpiresAt.Time,
	}
}

// ExpiringSoon reports whether less than RefreshThreshold remains before
// the payload expires.
func ExpiringSoon(p Payload) bool {
	return time.Until(p.ExpiresAt) < RefreshThreshold
}
