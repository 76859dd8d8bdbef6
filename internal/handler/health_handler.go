package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-task-api/internal/config"
	"github.com/noah-isme/gema-task-api/internal/utils"
)

// HealthProbe checks one backing dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports service identity and the state of each probe. Any failing probe turns the
// response into a 503.
func HealthCheck(cfg config.Config, probes ...HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(probes) > 0 {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()

			payload.Checks = make(map[string]string, len(probes))
			for _, probe := range probes {
				if err := probe.Check(ctx); err != nil {
					payload.Checks[probe.Name] = err.Error()
					payload.Status = "degraded"
					continue
				}
				payload.Checks[probe.Name] = "ok"
			}
		}

		if payload.Status != "ok" {
			return utils.SendSuccessWithStatus(c, fiber.StatusServiceUnavailable, "service degraded", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
