// Package token implements the Credential Verifier from spec §4.2: it
// parses and verifies HMAC-SHA-256 bearer tokens, consults the Token
// Blacklist, and yields a typed Principal.
package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/security/blacklist"
)

// Principal is the authenticated identity yielded by a verified token.
type Principal struct {
	Subject             string
	Roles               []string
	Permissions         []string
	TokenID             string
	ExpiresAt           time.Time
	IsAdmin             bool
	IsComplianceOfficer bool
}

// claims mirrors the recognized claim set from spec §6:
// {sub, exp, iat, jti?, roles, permissions}.
type claims struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Verifier validates signed bearer tokens.
type Verifier struct {
	secret    []byte
	blacklist blacklist.Store
}

// NewVerifier caches secret for the process lifetime, as spec §4.2 requires.
func NewVerifier(secret string, bl blacklist.Store) *Verifier {
	return &Verifier{secret: []byte(secret), blacklist: bl}
}

// Verify parses, verifies, checks revocation, and builds a Principal.
// Returns a nil Principal (not an error) when no token is supplied, per
// spec §4.2's "missing token yields unauthenticated principal, not an error".
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	if rawToken == "" {
		return nil, nil
	}

	tok, err := jwt.ParseWithClaims(rawToken, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errs.AuthenticationFailed("invalid bearer token", err)
	}

	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, errs.AuthenticationFailed("invalid bearer token claims", nil)
	}
	if c.Subject == "" || c.ExpiresAt == nil || c.IssuedAt == nil {
		return nil, errs.AuthenticationFailed("token missing required claims", nil)
	}
	if c.ExpiresAt.Before(time.Now()) {
		return nil, errs.AuthenticationFailed("token expired", nil)
	}

	jti := c.ID
	if jti != "" && v.blacklist != nil {
		revoked, err := v.blacklist.IsBlacklisted(ctx, jti)
		if err != nil {
			return nil, errs.Transient("blacklist lookup failed", err)
		}
		if revoked {
			return nil, errs.AuthenticationFailed("token has been revoked", nil)
		}
	}

	p := &Principal{
		Subject:     c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		TokenID:     jti,
		ExpiresAt:   c.ExpiresAt.Time,
	}
	p.IsAdmin = hasRole(p.Roles, "admin")
	p.IsComplianceOfficer = p.IsAdmin || hasRole(p.Roles, "compliance_officer")
	return p, nil
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// ExtractFromRequest applies the precedence from spec §6: the
// "access_token" cookie takes priority over the Authorization bearer header.
func ExtractFromRequest(r *http.Request) string {
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// Issue mints a signed token for subject with the given roles/permissions
// and lifetime, used by the Authentication flow when creating sessions.
func (v *Verifier) Issue(subject string, roles, permissions []string, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.secret)
}
