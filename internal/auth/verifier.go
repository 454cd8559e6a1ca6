package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the verified caller extracted from an access token issued by the
// external identity provider.
type Identity struct {
	UserID string
	Role   string
}

// TokenVerifier parses and validates access tokens. The identity provider is
// external; this service only verifies its signatures and claims.
type TokenVerifier struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	Now       func() time.Time
}

func (v TokenVerifier) algorithm() jwa.SignatureAlgorithm {
	if v.Algorithm != "" {
		return v.Algorithm
	}
	return jwa.HS256
}

// Verify parses the raw token, checks its signature and contextual claims,
// and returns the caller's identity.
func (v TokenVerifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, errors.New("auth: empty token")
	}
	if len(v.Secret) == 0 {
		return Identity{}, errors.New("auth: verifier secret not configured")
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	options := []jwt.ParseOption{
		jwt.WithKey(v.algorithm(), v.Secret),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}

	tok, err := jwt.ParseString(raw, options...)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}

	sub := strings.TrimSpace(tok.Subject())
	if sub == "" {
		return Identity{}, errors.New("auth: token missing subject")
	}
	id := Identity{UserID: sub}
	if roleClaim, ok := tok.Get("role"); ok {
		if role, ok := roleClaim.(string); ok {
			id.Role = role
		}
	}
	return id, nil
}
