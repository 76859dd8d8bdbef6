package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-task-api/internal/config"
	"github.com/noah-isme/gema-task-api/internal/handler"
	"github.com/noah-isme/gema-task-api/internal/middleware"
	"github.com/noah-isme/gema-task-api/internal/observability"
	"github.com/noah-isme/gema-task-api/pkg/storage"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	JWTMiddleware     fiber.Handler
	HealthProbes      []handler.HealthProbe
	// UploadDir is served under /uploads when files are stored on local disk.
	UploadDir string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	app.Get("/metrics", observability.MetricsHandler())

	if deps.UploadDir != "" {
		app.Static(storage.PublicPrefix, deps.UploadDir, fiber.Static{
			Browse:        false,
			CacheDuration: time.Hour,
		})
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.SubmissionHandler != nil {
		submissions := app.Group(middleware.SubmissionAPIPrefix, jwtMiddleware)
		deps.SubmissionHandler.Register(submissions, handler.SubmissionRouteGuards{
			Grader:        middleware.RequireRole(middleware.GraderRoles...),
			SelfOrGrader:  middleware.RequireSelfOrRole("userId", middleware.GraderRoles...),
			SubmitLimiter: middleware.RateLimit("task-submission", cfg.SubmitRateLimit, cfg.SubmitRateWindow),
		})
	}
}
