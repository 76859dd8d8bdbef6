package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/gema-task-api/internal/observability"
)

// FileStorage abstracts upload destinations. Implementations return the public URI of the stored file.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

var allowedDocumentTypes = []string{
	"application/pdf",
	"application/zip",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// uploadGuard validates files before anything is written to storage.
type uploadGuard struct {
	storage FileStorage
	maxSize int64
}

type checkedUpload struct {
	name string
	data []byte
}

func newUploadGuard(storage FileStorage, maxSizeMB int) uploadGuard {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return uploadGuard{storage: storage, maxSize: int64(maxSizeMB) * 1024 * 1024}
}

func (g uploadGuard) check(file *multipart.FileHeader) (checkedUpload, error) {
	if file.Size > g.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return checkedUpload{}, fmt.Errorf("%w: %s", ErrUploadTooLarge, file.Filename)
	}

	handle, err := file.Open()
	if err != nil {
		return checkedUpload{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, g.maxSize+1)); err != nil {
		return checkedUpload{}, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(buf.Len()) > g.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return checkedUpload{}, fmt.Errorf("%w: %s", ErrUploadTooLarge, file.Filename)
	}

	detected := mimetype.Detect(buf.Bytes())
	if !isAllowedUpload(detected) {
		observability.UploadRejected().WithLabelValues("type").Inc()
		return checkedUpload{}, fmt.Errorf("%w: %s (%s)", ErrUploadTypeNotAllowed, file.Filename, detected.String())
	}

	return checkedUpload{name: sanitizeFileName(file.Filename), data: buf.Bytes()}, nil
}

func (g uploadGuard) store(ctx context.Context, upload checkedUpload) (string, error) {
	url, err := g.storage.Upload(ctx, upload.name, bytes.NewReader(upload.data))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return url, nil
}

// storeAll uploads in order. On failure it returns the URLs stored before the error.
func (g uploadGuard) storeAll(ctx context.Context, uploads []checkedUpload) ([]string, error) {
	urls := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		url, err := g.store(ctx, upload)
		if err != nil {
			return urls, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func isAllowedUpload(detected *mimetype.MIME) bool {
	if strings.HasPrefix(detected.String(), "image/") {
		return true
	}
	for _, allowed := range allowedDocumentTypes {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func sanitizeFileName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("upload-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}
