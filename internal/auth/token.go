package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"employee-records/internal/config"
	"employee-records/internal/observability"
)

const (
	DefaultTokenTTL = 30 * time.Minute
	accessTokenType = "access"
)

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens. The secret is fixed
// at construction and never mutated.
type TokenService struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationStore
	now         func() time.Time
}

func NewTokenService(security config.SecurityConfig, revocations RevocationStore) (*TokenService, error) {
	if len(security.JWTSecret) < config.MinJWTSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", config.MinJWTSecretLength)
	}

	ttl := security.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenService{
		secret:      []byte(security.JWTSecret),
		ttl:         ttl,
		revocations: revocations,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source used for issuing and expiry checks.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject. A non-positive ttl uses the default.
func (s *TokenService) Issue(subject string, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(subject) == "" {
		return Token{}, fmt.Errorf("issue token: empty subject")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Token{}, fmt.Errorf("generate token id: %w", err)
	}

	now := s.now()
	claims := accessClaims{
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign jwt: %w", err)
	}

	return Token{
		Value:     encoded,
		ID:        claims.ID,
		Subject:   subject,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Verify checks the signature before any claim is trusted, then expiry, then
// the revocation set.
func (s *TokenService) Verify(ctx context.Context, raw string) (Claims, error) {
	claims, err := s.verify(ctx, raw)
	switch {
	case err == nil:
		observability.TokenVerifications.WithLabelValues("valid").Inc()
	case errors.Is(err, ErrTokenExpired):
		observability.TokenVerifications.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrTokenRevoked):
		observability.TokenVerifications.WithLabelValues("revoked").Inc()
	case errors.Is(err, ErrTokenMalformed):
		observability.TokenVerifications.WithLabelValues("malformed").Inc()
	default:
		observability.TokenVerifications.WithLabelValues("error").Inc()
	}
	return claims, err
}

func (s *TokenService) verify(ctx context.Context, raw string) (Claims, error) {
	parsed := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid || parsed.Type != accessTokenType || parsed.Subject == "" || parsed.ID == "" {
		return Claims{}, ErrTokenMalformed
	}

	claims := Claims{
		ID:        parsed.ID,
		Subject:   parsed.Subject,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Revoke denies the token until its own expiry.
func (s *TokenService) Revoke(ctx context.Context, claims Claims) error {
	if s.revocations == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
