package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is an account that can submit tasks and drive the queue.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Token is an issued JWT, tracked so it can be revoked.
type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a long-lived credential for non-interactive clients.
// Only the bcrypt hash is stored; the raw key is shown once at creation.
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	UserID      string    `json:"user_id"`
	KeyPrefix   string    `json:"key_prefix"`
	KeyHash     string    `json:"-"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role groups permissions under a name.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Claims are the JWT claims carried by spindle tokens.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token back to the client.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      User   `json:"user"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// CreateAPIKeyRequest is the body of POST /auth/api-keys.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresIn   int64    `json:"expires_in,omitempty"` // seconds, 0 = never
}

// CreateAPIKeyResponse returns the raw key exactly once.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Permission strings follow "resource:action". Known resources:
// tasks, queue, workers, users.
const (
	PermTaskSubmit   = "tasks:submit"
	PermTaskRead     = "tasks:read"
	PermTaskAbort    = "tasks:abort"
	PermQueueControl = "queue:control"
	PermWorkersRead  = "workers:read"
	PermUsersManage  = "users:manage"
)

// PreDefinedRoles are the built-in roles available at startup.
var PreDefinedRoles = map[string]Role{
	"admin": {
		Name:        "admin",
		Description: "Full access to every resource",
		Permissions: []string{"*:*"},
	},
	"operator": {
		Name:        "operator",
		Description: "Submit tasks and operate the queue",
		Permissions: []string{
			PermTaskSubmit,
			PermTaskRead,
			PermTaskAbort,
			PermQueueControl,
			PermWorkersRead,
		},
	},
	"viewer": {
		Name:        "viewer",
		Description: "Read-only access to tasks and queue state",
		Permissions: []string{
			PermTaskRead,
			PermWorkersRead,
		},
	},
}
