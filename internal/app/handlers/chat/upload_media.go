package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	"neighborhub/internal/app/handlers/support"
	"neighborhub/internal/app/policies"
	"neighborhub/internal/app/uow"
	domainchat "neighborhub/internal/domain/chat"
)

const uploadMediaKey = "chat.upload"

// DefaultMaxUploadBytes caps a single attachment.
const DefaultMaxUploadBytes int64 = 10 << 20

var ErrMediaStorageUnavailable = errors.New("chat: media storage unavailable")

type UploadMediaCommand struct {
	ConversationID string
	UploaderID     string
	Filename       string
	ContentType    string
	Size           int64
	Reader         io.Reader
}

func (c UploadMediaCommand) Key() string { return uploadMediaKey }

func (c UploadMediaCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationIDMissing
	}
	if c.Reader == nil || c.Size <= 0 {
		return domainchat.ErrMediaRequired
	}
	return nil
}

// UploadMediaHandler stores an attachment and returns its URL. The URL is then
// sent as the media field of a regular message.
type UploadMediaHandler struct {
	UoWFactory uow.UoWFactory
	Storage    policies.MediaStorage
	MaxBytes   int64
	Now        func() time.Time
	Logger     *slog.Logger
}

func (h *UploadMediaHandler) Handle(ctx context.Context, cmd UploadMediaCommand) (*dto.UploadResult, error) {
	if h.Storage == nil {
		return nil, ErrMediaStorageUnavailable
	}
	if cmd.Reader == nil || cmd.Size <= 0 {
		return nil, domainchat.ErrMediaRequired
	}
	if cmd.Size > h.maxBytes() {
		return nil, domainchat.ErrMediaTooLarge
	}

	unit, ctx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	conv, err := loadConversation(ctx, unit, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(strings.TrimSpace(cmd.UploaderID)) {
		return nil, domainchat.ErrNotParticipant
	}

	key := MediaObjectKey(conv.ID, cmd.Filename, h.now())
	body := &cappedReader{r: cmd.Reader, remaining: h.maxBytes()}
	url, err := h.Storage.Upload(ctx, key, body, cmd.ContentType)
	if body.exceeded {
		return nil, domainchat.ErrMediaTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if h.Logger != nil {
		h.Logger.Info("chat media uploaded", "conversation_id", conv.ID, "uploader", cmd.UploaderID, "key", key, "size", cmd.Size)
	}
	return &dto.UploadResult{URL: url}, nil
}

func (h *UploadMediaHandler) maxBytes() int64 {
	if h.MaxBytes > 0 {
		return h.MaxBytes
	}
	return DefaultMaxUploadBytes
}

func (h *UploadMediaHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// cappedReader fails once more than remaining bytes are read, whatever size the
// request declared.
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, domainchat.ErrMediaTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	if int64(n) > c.remaining {
		c.exceeded = true
		return 0, domainchat.ErrMediaTooLarge
	}
	c.remaining -= int64(n)
	return n, err
}

// MediaObjectKey builds chat/<conversation>/<unix millis>-<9 random digits><ext>.
func MediaObjectKey(id domainchat.ConversationID, filename string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.TrimSpace(filename))))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("chat/%s/%d-%09d%s", id, at.UnixMilli(), rand.IntN(1_000_000_000), ext)
}

var _ commands.Handler[UploadMediaCommand, *dto.UploadResult] = (*UploadMediaHandler)(nil)
