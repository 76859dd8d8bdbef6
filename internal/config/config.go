package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers supported for uploaded answer files.
const (
	StorageDriverLocal      = "local"
	StorageDriverCloudinary = "cloudinary"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	TaskCacheTTL           time.Duration
	NATSURL                string
	EventSubject           string
	JWTSecret              string
	StorageDriver          string
	UploadDir              string
	PublicBaseURL          string
	MaxUploadMB            int
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	LatestSubmissionPolicy string
	SubmitRateLimit        int
	SubmitRateWindow       time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Task API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("task_cache.ttl", "5m")
	v.SetDefault("events.subject", "gema.task_submissions")
	v.SetDefault("storage.driver", StorageDriverLocal)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.max_upload_mb", 10)
	v.SetDefault("cloudinary.folder", "gema/task-submissions")
	v.SetDefault("grading.latest_policy", "created_at")
	v.SetDefault("rate_limit.submit_max", 30)
	v.SetDefault("rate_limit.submit_window", "1m")

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	ttlString := v.GetString("task_cache.ttl")
	if ttlString == "" {
		ttlString = "5m"
	}

	ttl, err := time.ParseDuration(ttlString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid task cache ttl: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("rate_limit.submit_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid submit rate limit window: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		TaskCacheTTL:           ttl,
		NATSURL:                v.GetString("nats.url"),
		EventSubject:           v.GetString("events.subject"),
		JWTSecret:              v.GetString("jwt.secret"),
		StorageDriver:          strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
		UploadDir:              v.GetString("storage.upload_dir"),
		PublicBaseURL:          strings.TrimRight(v.GetString("storage.public_base_url"), "/"),
		MaxUploadMB:            v.GetInt("storage.max_upload_mb"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		LatestSubmissionPolicy: strings.ToLower(strings.TrimSpace(v.GetString("grading.latest_policy"))),
		SubmitRateLimit:        v.GetInt("rate_limit.submit_max"),
		SubmitRateWindow:       window,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.StorageDriver {
	case StorageDriverLocal, StorageDriverCloudinary:
	default:
		return Config{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.LatestSubmissionPolicy {
	case "created_at", "updated_at":
	default:
		return Config{}, fmt.Errorf("unsupported grading latest policy %q", cfg.LatestSubmissionPolicy)
	}

	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}

	return cfg, nil
}
