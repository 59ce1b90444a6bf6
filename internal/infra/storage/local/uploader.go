package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"neighborhub/internal/app/policies"
)

// Storage writes attachments under Dir; the HTTP server exposes Dir at PublicPrefix.
type Storage struct {
	Dir          string
	PublicPrefix string
	Logger       *slog.Logger
}

func (s Storage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	if reader == nil {
		return "", errors.New("local: reader is required")
	}
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", errors.New("local: object key is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("local: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("local: create file: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("local: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("local: close file: %w", err)
	}
	url := strings.TrimRight(s.PublicPrefix, "/") + clean
	if s.Logger != nil {
		s.Logger.Info("chat media stored", "path", path, "url", url, "content_type", contentType)
	}
	return url, nil
}

var _ policies.MediaStorage = Storage{}
