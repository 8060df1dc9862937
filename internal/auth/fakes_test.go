package auth

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"employee-records/internal/audit"
	"employee-records/internal/config"
	"employee-records/internal/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memoryUsers struct {
	mu     sync.Mutex
	byName map[string]Credential
	nextID int
	err    error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: make(map[string]Credential)}
}

func (m *memoryUsers) FindByUsername(_ context.Context, username string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Credential{}, m.err
	}
	cred, ok := m.byName[username]
	if !ok {
		return Credential{}, ErrUserNotFound
	}
	return cred, nil
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.byName {
		if cred.ID == id {
			return cred, nil
		}
	}
	return Credential{}, ErrUserNotFound
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.byName {
		if cred.Email == email {
			return cred, nil
		}
	}
	return Credential{}, ErrUserNotFound
}

func (m *memoryUsers) Create(_ context.Context, input NewCredential) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[input.Username]; ok {
		return "", ErrUserExists
	}
	m.nextID++
	id := fmt.Sprintf("user-%d", m.nextID)
	m.byName[input.Username] = Credential{
		ID:           id,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Active:       true,
	}
	return id, nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cred := range m.byName {
		if cred.ID == id {
			cred.PasswordHash = passwordHash
			m.byName[name] = cred
			return nil
		}
	}
	return ErrUserNotFound
}

func (m *memoryUsers) UpdateProfile(_ context.Context, id, username, email string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current Credential
	found := false
	for _, cred := range m.byName {
		if cred.ID == id {
			current, found = cred, true
			continue
		}
		if cred.Username == username || cred.Email == email {
			return Credential{}, ErrUserExists
		}
	}
	if !found {
		return Credential{}, ErrUserNotFound
	}
	delete(m.byName, current.Username)
	current.Username = username
	current.Email = email
	m.byName[username] = current
	return current, nil
}

func (m *memoryUsers) setActive(username string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred := m.byName[username]
	cred.Active = active
	m.byName[username] = cred
}

func (m *memoryUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byName)
}

type recordedAudit struct {
	userID  string
	action  audit.Action
	details string
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (a *memoryAudit) Record(_ context.Context, userID string, action audit.Action, details string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, recordedAudit{userID: userID, action: action, details: details})
	return nil
}

func (a *memoryAudit) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.action)
	}
	return out
}

// testClock is a settable time source shared by the token service, the
// limiter and the revocation store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	users       *memoryUsers
	hasher      *BcryptHasher
	revocations *MemoryRevocationStore
	tokens      *TokenService
	guard       *Guard
	clock       *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTestClock()
	revocations := NewMemoryRevocationStore()
	revocations.now = clock.Now

	tokens, err := NewTokenService(config.SecurityConfig{JWTSecret: testSecret}, revocations)
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	users := newMemoryUsers()
	hasher := NewBcryptHasher(4)
	guard, err := NewGuard(users, hasher, tokens)
	require.NoError(t, err)

	return &testEnv{
		users:       users,
		hasher:      hasher,
		revocations: revocations,
		tokens:      tokens,
		guard:       guard,
		clock:       clock,
	}
}

func (e *testEnv) addUser(t *testing.T, username, password string, role Role) Credential {
	t.Helper()

	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	_, err = e.users.Create(context.Background(), NewCredential{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
	})
	require.NoError(t, err)

	cred, err := e.users.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	return cred
}

func discardLogger() *observability.Logger {
	return observability.NewLoggerTo(io.Discard)
}
