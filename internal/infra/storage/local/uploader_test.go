package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s := Storage{Dir: dir, PublicPrefix: "/uploads/"}

	url, err := s.Upload(context.Background(), "chat/c1/photo.png", strings.NewReader("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/chat/c1/photo.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "chat", "c1", "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestUploadStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s := Storage{Dir: filepath.Join(dir, "media"), PublicPrefix: "/uploads"}

	url, err := s.Upload(context.Background(), "../../escape.txt", strings.NewReader("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/escape.txt", url)
	_, err = os.Stat(filepath.Join(dir, "media", "escape.txt"))
	assert.NoError(t, err)

	_, err = s.Upload(context.Background(), "", strings.NewReader("x"), "")
	assert.Error(t, err)
}
