// Package auth issues and verifies the HS256 session tokens sent as bearer credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/recogito/studio-jobs/internal/domain"
)

// DefaultTokenTTL is used when Issue is called with a zero ttl
const DefaultTokenTTL = time.Hour

var errNoKey = errors.New("token signing key is not configured")

// TokenManager signs and validates session tokens with a shared secret
type TokenManager struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. An empty key makes every operation fail.
func NewTokenManager(key, issuer string) *TokenManager {
	return &TokenManager{
		key:    []byte(key),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token whose subject is the user id
func (m *TokenManager) Issue(userID string, ttl time.Duration) (string, error) {
	if len(m.key) == 0 {
		return "", errNoKey
	}
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", domain.ErrUnauthorized)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Verify validates signature, algorithm, expiry and issuer, and returns the user id.
// Every failure wraps domain.ErrUnauthorized.
func (m *TokenManager) Verify(token string) (string, error) {
	if len(m.key) == 0 {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, errNoKey)
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
