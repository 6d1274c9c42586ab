// Package auth provides JWT issuance, verification, and handshake token extraction.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthenticationFailed is returned for a missing, malformed, expired, or
// badly signed credential. Callers must not surface which part failed.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Claims is the JWT claim set carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken issues a signed token for the given subject identity.
func GenerateToken(subject, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret is required")
	}
	now := time.Now()
	expiresAt := now.Add(expiresIn)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken validates the signature and expiry and returns the subject
// identity id. Any failure maps to ErrAuthenticationFailed.
func VerifyToken(token, secret string) (string, error) {
	if token == "" {
		return "", ErrAuthenticationFailed
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrAuthenticationFailed
	}
	return claims.Subject, nil
}
