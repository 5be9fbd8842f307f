package session

import (
	"context"
	"slices"
)

// Role names issued by the backend.
const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

// User is an immutable snapshot of the signed-in account. It is replaced
// wholesale on every fetch.
type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"createdAt,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles.
func (u *User) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the registration request body.
type RegisterRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles,omitempty"`
}

// AuthResponse is returned by the login endpoint.
type AuthResponse struct {
	Token    string   `json:"token"`
	Type     string   `json:"type"`
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// User extracts the account part of the response.
func (r AuthResponse) User() *User {
	return &User{
		ID:       r.ID,
		Username: r.Username,
		Email:    r.Email,
		Roles:    slices.Clone(r.Roles),
	}
}

// Backend is the remote authentication collaborator.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (AuthResponse, error)
	Register(ctx context.Context, req RegisterRequest) error
	CurrentUser(ctx context.Context) (User, error)
}

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// Snapshot is a consistent copy of the session fields.
type Snapshot struct {
	State         State  `json:"-"`
	StateName     string `json:"state"`
	User          *User  `json:"user,omitempty"`
	HasToken      bool   `json:"hasToken"`
	Initialized   bool   `json:"initialized"`
	Loading       bool   `json:"loading"`
	Authenticated bool   `json:"authenticated"`
}
