package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope is the permission level carried by a token.
type Scope string

// Scopes, weakest first.
const (
	ScopeRead    Scope = "read"
	ScopeControl Scope = "control"
)

// defaultTTL applies when IssueToken is given a non-positive TTL.
const defaultTTL = 60 * time.Minute

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeRead || s == ScopeControl
}

// Allows reports whether a token with scope s may perform an operation
// requiring want.
func (s Scope) Allows(want Scope) bool {
	switch want {
	case ScopeRead:
		return s.Valid()
	case ScopeControl:
		return s == ScopeControl
	default:
		return false
	}
}

// Claims extends the registered JWT claims with a scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// IssueToken creates a signed token for subject.
func IssueToken(subject string, scope Scope, secret string, ttl time.Duration) (string, error) {
	if !scope.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims. It checks the
// signature, the expiry and that subject and scope are present.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Scope.Valid() {
		return nil, fmt.Errorf("%w: scope %q", ErrTokenInvalid, claims.Scope)
	}
	return claims, nil
}
