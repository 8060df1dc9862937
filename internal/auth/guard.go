package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// unknownUserPassword is hashed once so logins for missing accounts still
// pay for a bcrypt comparison.
const unknownUserPassword = "unknown-user-timing-equaliser"

// UserStore is the credential lookup the guard depends on.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (Credential, error)
	FindByID(ctx context.Context, id string) (Credential, error)
	FindByEmail(ctx context.Context, email string) (Credential, error)
	Create(ctx context.Context, input NewCredential) (string, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id, username, email string) (Credential, error)
}

// Guard authenticates logins and resolves request tokens back to credentials.
type Guard struct {
	users  UserStore
	hasher PasswordHasher
	tokens *TokenService

	dummyOnce   sync.Once
	dummyDigest string
}

func NewGuard(users UserStore, hasher PasswordHasher, tokens *TokenService) (*Guard, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	return &Guard{users: users, hasher: hasher, tokens: tokens}, nil
}

func (g *Guard) Hasher() PasswordHasher {
	return g.hasher
}

// Authenticate does no rate limiting; callers check the limiter first.
func (g *Guard) Authenticate(ctx context.Context, identity, password string) (Credential, error) {
	if identity == "" || password == "" {
		return Credential{}, ErrInvalidCredentials
	}

	cred, err := g.users.FindByUsername(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			g.hasher.Verify(password, g.unknownUserDigest())
			return Credential{}, ErrInvalidCredentials
		}
		return Credential{}, fmt.Errorf("find credential: %w", err)
	}

	if !g.hasher.Verify(password, cred.PasswordHash) {
		return Credential{}, ErrInvalidCredentials
	}

	return cred, nil
}

func (g *Guard) unknownUserDigest() string {
	g.dummyOnce.Do(func() {
		// On failure the digest stays empty and Verify rejects it.
		g.dummyDigest, _ = g.hasher.Hash(unknownUserPassword)
	})
	return g.dummyDigest
}

func (g *Guard) IssueSession(username string) (Token, error) {
	return g.tokens.Issue(username, 0)
}

func (g *Guard) ResolveRequestIdentity(ctx context.Context, token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrMissingToken
	}

	claims, err := g.tokens.Verify(ctx, token)
	if err != nil {
		if isTokenRejection(err) {
			return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Credential{}, fmt.Errorf("verify token: %w", err)
	}

	cred, err := g.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Credential{}, ErrInvalidCredentials
		}
		return Credential{}, fmt.Errorf("resolve token subject: %w", err)
	}

	return cred, nil
}

func (g *Guard) ResolveRequestIdentityOptional(ctx context.Context, token string) *Credential {
	cred, err := g.ResolveRequestIdentity(ctx, token)
	if err != nil {
		return nil
	}
	return &cred
}

func (g *Guard) RequireActive(cred Credential) (Credential, error) {
	if !cred.Active {
		return Credential{}, ErrInactive
	}
	return cred, nil
}

// EndSession revokes a still-valid token. Rejected tokens are ignored since
// they already authenticate nothing.
func (g *Guard) EndSession(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	claims, err := g.tokens.Verify(ctx, token)
	if err != nil {
		if isTokenRejection(err) {
			return nil
		}
		return fmt.Errorf("verify token: %w", err)
	}
	return g.tokens.Revoke(ctx, claims)
}

// isTokenRejection separates bad tokens from revocation store failures.
func isTokenRejection(err error) bool {
	return errors.Is(err, ErrTokenMalformed) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked)
}
