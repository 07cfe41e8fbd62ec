package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminRole is the role marker that grants access to the admin panel.
const AdminRole = "admin"

// Claims holds the identity fields decoded from an access token payload.
// The signature is NOT verified: verification is the server's job, and these
// values are a convenience cache only. Any authorization-sensitive decision is
// revalidated by the server on every request.
type Claims struct {
	Email     string
	Role      any
	ExpiresAt time.Time
}

var unverifiedParser = jwt.NewParser()

// decodeClaims extracts the raw claim set from a token without verifying it.
func decodeClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}
	return claims, nil
}

// IsExpired reports whether the token's embedded expiry claim is in the past.
// A token that cannot be decoded is treated as expired. A decodable token
// without an expiry claim is not considered expired, matching the server's
// own leniency for long-lived tokens.
func IsExpired(token string) bool {
	if token == "" {
		return true
	}
	claims, err := decodeClaims(token)
	if err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return !exp.After(time.Now())
}

// ClaimsFromToken decodes the identity claims from an access token payload.
func ClaimsFromToken(token string) (*Claims, error) {
	raw, err := decodeClaims(token)
	if err != nil {
		return nil, err
	}

	c := &Claims{}
	if sub, ok := raw["sub"].(string); ok {
		c.Email = sub
	}
	c.Role = raw["role"]
	if exp, err := raw.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// roleContains checks whether the given role claim carries the wanted role.
// The claim may be a single string, a space/comma-delimited string, or an
// array of strings; absent or unrecognized shapes never match.
func roleContains(role any, want string) bool {
	switch v := role.(type) {
	case string:
		if v == want {
			return true
		}
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == ',' }) {
			if part == want {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}

// roleString renders a role claim as a display string.
func roleString(role any) string {
	switch v := role.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	default:
		return ""
	}
}
