package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PublicPrefix is the path the static file endpoint is mounted on.
const PublicPrefix = "/uploads"

// Local stores uploads on disk and returns URIs rooted at the public static endpoint.
type Local struct {
	dir     string
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLocal prepares the upload directory.
func NewLocal(dir, publicBaseURL string, logger zerolog.Logger) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger.With().Str("component", "local_storage").Logger(),
		now:     time.Now,
	}, nil
}

// Dir returns the directory served under PublicPrefix.
func (l *Local) Dir() string {
	return l.dir
}

// Upload writes the stream to a uniquely named file and returns its public URI.
func (l *Local) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("%d-%s-%s", l.now().UnixMilli(), uuid.NewString()[:8], filepath.Base(name))
	target := filepath.Join(l.dir, fileName)

	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}

	l.logger.Info().Str("file", fileName).Msg("file stored")

	return l.PublicURL(fileName), nil
}

// PublicURL builds the fully qualified URI of a stored file.
func (l *Local) PublicURL(fileName string) string {
	return l.baseURL + PublicPrefix + "/" + url.PathEscape(fileName)
}
