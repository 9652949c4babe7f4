package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is an account that can authenticate against the remote service.
// The local replica additionally stores PasswordHash so login can be
// verified with the server unreachable; the hash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	RoleID       string    `json:"roleId"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Role groups permissions; users foreign-key into it, so a role row must
// exist locally before its users can be cached.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions string    `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PlaceholderRole synthesizes a minimal role row so a cached user's
// foreign key resolves until the next sync replaces it.
func PlaceholderRole(id string) *Role {
	now := time.Now().UTC()
	return &Role{
		ID:        id,
		Name:      "pending-sync",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewUser creates a user with a fresh id and normalized identifiers.
func NewUser(username, email, displayName, roleID string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)

	if username == "" {
		return nil, ErrEmptyUsername
	}
	if roleID == "" {
		return nil, ErrEmptyRole
	}

	now := time.Now().UTC()
	return &User{
		ID:          uuid.New().String(),
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		RoleID:      roleID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetPassword hashes and sets the user's password using bcrypt (cost 12)
func (u *User) SetPassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}

	u.PasswordHash = string(hash)
	return nil
}

// VerifyPassword checks the password against the stored hash
// (constant-time via bcrypt). The remote service uses the same scheme,
// so a hash cached from it verifies identically.
func (u *User) VerifyPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UserProfile is the safe response shape (no hash).
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	RoleID      string `json:"roleId"`
	IsActive    bool   `json:"isActive"`
}

// ToProfile converts a User to its safe response shape.
func (u *User) ToProfile() UserProfile {
	return UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		RoleID:      u.RoleID,
		IsActive:    u.IsActive,
	}
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	// UseServer forces remote-only (true) or offline-only (false)
	// verification; nil means remote first with offline fallback.
	UseServer *bool `json:"useServer,omitempty"`
}

// LoginResult is returned to callers after a successful login.
// Token is empty and IsOffline true when the credentials were verified
// against the local cache.
type LoginResult struct {
	User      UserProfile `json:"user"`
	Token     string      `json:"token,omitempty"`
	IsOffline bool        `json:"isOffline"`
}

// RemoteLoginResponse is the remote login endpoint's payload.
type RemoteLoginResponse struct {
	User  UserProfile `json:"user"`
	Token string      `json:"token"`
}

// RemoteUser is the authenticated-only full profile, including the
// password hash used to populate the offline credential cache.
type RemoteUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	RoleID       string    `json:"roleId"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ToUser converts the remote payload into the locally cached form.
func (r *RemoteUser) ToUser() *User {
	return &User{
		ID:           r.ID,
		Username:     strings.ToLower(r.Username),
		Email:        strings.ToLower(r.Email),
		DisplayName:  r.DisplayName,
		PasswordHash: r.PasswordHash,
		RoleID:       r.RoleID,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
