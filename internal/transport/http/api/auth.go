package api

import (
	"context"
	"net/http"

	"teachhelper-console/internal/domain/session"
	"teachhelper-console/internal/transport/http/client"
)

// AuthAPI is the authentication resource. It implements session.Backend.
type AuthAPI struct {
	c *client.Client
}

var _ session.Backend = (*AuthAPI)(nil)

// Login posts credentials to /auth/login.
func (a *AuthAPI) Login(ctx context.Context, creds session.Credentials) (session.AuthResponse, error) {
	return post[session.AuthResponse](ctx, a.c, "/auth/login", creds)
}

// Register posts a new account to /auth/register.
func (a *AuthAPI) Register(ctx context.Context, req session.RegisterRequest) error {
	_, err := a.RegisterMessage(ctx, req)
	return err
}

// RegisterMessage is Register returning the server's confirmation text.
func (a *AuthAPI) RegisterMessage(ctx context.Context, req session.RegisterRequest) (string, error) {
	return text(ctx, a.c, client.Request{Method: http.MethodPost, Path: "/auth/register", Body: req})
}

// CurrentUser fetches /auth/me.
func (a *AuthAPI) CurrentUser(ctx context.Context) (session.User, error) {
	return get[session.User](ctx, a.c, "/auth/me", nil)
}
