package api

import (
	"context"
	"net/http"

	"teachhelper-console/internal/transport/http/client"
)

// DevAPI holds development-only endpoints.
type DevAPI struct {
	c *client.Client
}

// GenerateSampleData fills the backend with sample exams. Requires ADMIN.
func (d *DevAPI) GenerateSampleData(ctx context.Context) (string, error) {
	return text(ctx, d.c, client.Request{Method: http.MethodPost, Path: "/dev/generate-sample-data"})
}

// InitData seeds a fresh backend. No sign-in needed.
func (d *DevAPI) InitData(ctx context.Context) (string, error) {
	return text(ctx, d.c, client.Request{Method: http.MethodPost, Path: "/dev/init-data"})
}
