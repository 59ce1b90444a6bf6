package policies

import (
	"context"
	"io"
)

// MediaStorage persists an uploaded object under key and returns the URL clients fetch it from.
type MediaStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (publicURL string, err error)
}
