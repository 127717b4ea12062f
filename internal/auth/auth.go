// Package auth implements the gateway's role and scope model and bearer-token
// principal extraction.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is a principal's tier. Roles form a total order:
// viewer < operator < admin.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Rank maps roles onto their total order. Unknown roles rank below viewer.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if role.Rank() == 0 {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// Scope names a permitted operation.
type Scope string

const (
	ScopeEventsRead    Scope = "events:read"
	ScopeEventsWrite   Scope = "events:write"
	ScopeCorrelateRead Scope = "correlate:read"
	ScopeChatPost      Scope = "chat:post"
)

// roleScopes is the fixed grant table. Every role can read events and post to
// the collaborative channel; operator and above may ingest and correlate.
var roleScopes = map[Role][]Scope{
	RoleViewer:   {ScopeEventsRead, ScopeChatPost},
	RoleOperator: {ScopeEventsRead, ScopeChatPost, ScopeEventsWrite, ScopeCorrelateRead},
	RoleAdmin:    {ScopeEventsRead, ScopeChatPost, ScopeEventsWrite, ScopeCorrelateRead},
}

// ScopesFor returns the fixed scope set granted to a role.
func ScopesFor(role Role) []Scope {
	return append([]Scope(nil), roleScopes[role]...)
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    Role
}

// Can reports whether the principal's role grants the scope.
func (p Principal) Can(scope Scope) bool {
	for _, s := range roleScopes[p.Role] {
		if s == scope {
			return true
		}
	}
	return false
}

// ForbiddenError reports a failed scope check. It must propagate to the caller
// with no partial execution and no telemetry side effect.
type ForbiddenError struct {
	Subject string
	Scope   Scope
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s lacks scope %s", e.Subject, e.Scope)
}

// Authorize checks scope membership for the principal.
func Authorize(p Principal, scope Scope) error {
	if !p.Can(scope) {
		return &ForbiddenError{Subject: p.Subject, Scope: scope}
	}
	return nil
}

// TokenVerifier extracts principals from HS256 bearer tokens carrying sub and
// role claims.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier over the shared signing secret.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

type meshClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal parses and verifies a bearer token.
func (v *TokenVerifier) Principal(token string) (Principal, error) {
	var claims meshClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("token role: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token missing sub claim")
	}
	return Principal{Subject: claims.Subject, Role: role}, nil
}

// Issue mints a token for the subject and role. Used by tests and by meshctl
// in local development.
func (v *TokenVerifier) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	if role.Rank() == 0 {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := meshClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
