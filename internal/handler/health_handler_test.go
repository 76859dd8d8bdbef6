package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-task-api/internal/config"
	"github.com/noah-isme/gema-task-api/internal/handler"
)

type healthEnvelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    handler.HealthResponse `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName: "GEMA Task API",
		AppEnv:  "test",
	}

	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg, handler.HealthProbe{
		Name:  "database",
		Check: func(context.Context) error { return nil },
	}))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload healthEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.Equal(t, "ok", payload.Data.Checks["database"])
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthCheckReportsFailingProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(config.Config{AppName: "GEMA Task API"},
		handler.HealthProbe{Name: "database", Check: func(context.Context) error { return nil }},
		handler.HealthProbe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var payload healthEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "degraded", payload.Data.Status)
	assert.Equal(t, "ok", payload.Data.Checks["database"])
	assert.Equal(t, "connection refused", payload.Data.Checks["redis"])
}
