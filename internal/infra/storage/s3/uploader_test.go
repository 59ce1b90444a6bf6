package s3

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidatesOptions(t *testing.T) {
	_, err := NewClient(Options{Bucket: "b"}, nil)
	assert.ErrorContains(t, err, "endpoint")
	_, err = NewClient(Options{Endpoint: "http://localhost:9000"}, nil)
	assert.ErrorContains(t, err, "bucket")
}

func TestPublicURLUsesPublicEndpoint(t *testing.T) {
	c, err := NewClient(Options{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.org/",
		Bucket:         "chat",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org", c.publicBaseURL)
	assert.Equal(t, "https://cdn.example.org/chat/c1/photo.png", objectURL(c.publicBaseURL, c.bucket, "/c1/photo.png"))
	assert.Equal(t, "minio:9000", hostOf("http://minio:9000"))
	assert.Equal(t, "minio:9000", hostOf("minio:9000"))
}

func TestUploadRejectsEmptyInput(t *testing.T) {
	c, err := NewClient(Options{Endpoint: "localhost:9000", Bucket: "chat"}, nil)
	require.NoError(t, err)
	_, err = c.Upload(context.Background(), "k", nil, "")
	assert.Error(t, err)
	_, err = c.Upload(context.Background(), " / ", strings.NewReader("x"), "")
	assert.ErrorContains(t, err, "key")
}
