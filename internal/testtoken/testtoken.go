// Package testtoken mints signed JWTs for tests. The client never verifies
// signatures, but real tokens keep the fixtures honest.
package testtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Secret signs all test tokens.
const Secret = "test-secret"

// Mint creates a signed HS256 token with the given subject, role claim, and
// expiry. A nil role omits the claim; a zero expiry omits the exp claim.
func Mint(t *testing.T, email string, role any, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{"sub": email}
	if role != nil {
		claims["role"] = role
	}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(Secret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}
