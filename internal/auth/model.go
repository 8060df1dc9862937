package auth

import "time"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleHR    Role = "hr"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleUser:
		return true
	default:
		return false
	}
}

// Credential is the stored identity record. The core only reads it.
type Credential struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type NewCredential struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
}

// Token is a signed session token. It is never stored server side.
type Token struct {
	Value     string
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Claims struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
