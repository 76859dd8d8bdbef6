package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-task-api/internal/config"
	"github.com/noah-isme/gema-task-api/internal/database"
	"github.com/noah-isme/gema-task-api/internal/events"
	"github.com/noah-isme/gema-task-api/internal/handler"
	"github.com/noah-isme/gema-task-api/internal/middleware"
	"github.com/noah-isme/gema-task-api/internal/repository"
	"github.com/noah-isme/gema-task-api/internal/router"
	"github.com/noah-isme/gema-task-api/internal/service"
	cloud "github.com/noah-isme/gema-task-api/pkg/cloudinary"
	"github.com/noah-isme/gema-task-api/pkg/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("service", cfg.AppName).Str("env", cfg.AppEnv).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to access database handle")
	}
	defer sqlDB.Close()

	probes := []handler.HealthProbe{{Name: "database", Check: sqlDB.PingContext}}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("task cache disabled")
	}
	if redisClient != nil {
		defer redisClient.Close()
		probes = append(probes, handler.HealthProbe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("submission events disabled")
		} else {
			defer natsConn.Drain()
		}
	}

	fileStorage, uploadDir := buildStorage(cfg, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	latestPolicy, err := repository.ParseLatestSubmissionPolicy(cfg.LatestSubmissionPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid grading configuration")
	}

	submissionRepo := repository.NewSubmissionRepository(db)
	taskRepo := repository.NewCachedTaskRepository(repository.NewTaskRepository(db), redisClient, cfg.TaskCacheTTL, logger)
	publisher := events.NewNATSPublisher(natsConn, cfg.EventSubject, logger)

	gate := service.NewTypeGate(taskRepo)
	normalizer := service.NewAnswerNormalizer(fileStorage, cfg.MaxUploadMB, logger)

	submissionService := service.NewSubmissionService(submissionRepo, gate, normalizer, publisher, logger)
	gradingService := service.NewGradingService(submissionRepo, taskRepo, gate, fileStorage, validate, publisher, service.GradingOptions{
		LatestPolicy: latestPolicy,
		MaxUploadMB:  cfg.MaxUploadMB,
	}, logger)
	queryService := service.NewSubmissionQueryService(submissionRepo, gate, logger)

	submissionHandler := handler.NewSubmissionHandler(submissionService, gradingService, queryService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxUploadMB*8 + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: submissionHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:      probes,
		UploadDir:         uploadDir,
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("starting server")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

// buildStorage selects the upload destination. The returned directory is non-empty only for local
// storage, which is then served as static files.
func buildStorage(cfg config.Config, logger zerolog.Logger) (service.FileStorage, string) {
	if cfg.StorageDriver == config.StorageDriverCloudinary {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		return uploader, ""
	}

	local, err := storage.NewLocal(cfg.UploadDir, cfg.PublicBaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}
	return local, local.Dir()
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
