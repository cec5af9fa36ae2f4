// utils/token_claims.go
package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/opengovern/resilient-fetch/internal"
)

// TokenClaims are the access-token claims the fetch layer cares about.
type TokenClaims struct {
	UserID    string
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (c *TokenClaims) Expired() bool {
	return !c.ExpiresAt.IsZero() && !internal.IsInFuture(c.ExpiresAt)
}

type accessClaims struct {
	UserID any `json:"user_id"`
	jwt.RegisteredClaims
}

// ParseClaims reads the claims of an access token without verifying its signature.
// The origin server verifies tokens; this is only used for expiry bookkeeping and
// log fields, never for authorization decisions.
func ParseClaims(token string) (*TokenClaims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	out := &TokenClaims{
		UserID:  stringClaim(claims.UserID),
		Subject: claims.Subject,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func stringClaim(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
