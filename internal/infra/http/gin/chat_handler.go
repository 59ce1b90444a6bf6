package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"neighborhub/internal/app/commands"
	"neighborhub/internal/app/dto"
	chathandlers "neighborhub/internal/app/handlers/chat"
	"neighborhub/internal/app/queries"
	domainchat "neighborhub/internal/domain/chat"
	domainuser "neighborhub/internal/domain/user"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// multipartOverhead leaves room for boundaries and part headers on top of the file limit.
const multipartOverhead = 64 << 10

// ChatHandler bridges HTTP with the chat command and query buses.
type ChatHandler struct {
	Commands       commands.Bus
	Queries        queries.Bus
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type startConversationRequest struct {
	UserID    string `json:"userId"`
	ItemID    string `json:"itemId"`
	ServiceID string `json:"serviceId"`
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Media string `json:"media"`
}

// Start finds or creates the conversation with another user.
func (h ChatHandler) Start(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := commands.Dispatch[chathandlers.StartConversationCommand, *dto.StartConversationResult](
		c.Request.Context(),
		h.Commands,
		chathandlers.StartConversationCommand{
			RequesterID: principal.ID,
			OtherID:     strings.TrimSpace(req.UserID),
			ItemID:      req.ItemID,
			ServiceID:   req.ServiceID,
			Now:         time.Now(),
		},
	)
	if err != nil {
		respondError(c, h.Logger, "start conversation", err, "user_id", principal.ID, "other_id", req.UserID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// List returns the caller's conversations with unread counts.
func (h ChatHandler) List(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	result, err := queries.Ask[chathandlers.ListConversationsQuery, []dto.Conversation](
		c.Request.Context(),
		h.Queries,
		chathandlers.ListConversationsQuery{ViewerID: principal.ID},
	)
	if err != nil {
		respondError(c, h.Logger, "list conversations", err, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, nonNilConversations(result))
}

// AdminAll lists every conversation. Admin only.
func (h ChatHandler) AdminAll(c *gin.Context) {
	principal, ok := requireRole(c, domainuser.RoleAdmin)
	if !ok {
		return
	}
	result, err := queries.Ask[chathandlers.ListAllConversationsQuery, []dto.Conversation](
		c.Request.Context(),
		h.Queries,
		chathandlers.ListAllConversationsQuery{ActorID: principal.ID, Roles: principal.Roles},
	)
	if err != nil {
		respondError(c, h.Logger, "list all conversations", err, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, nonNilConversations(result))
}

// Messages returns the full history of a conversation, oldest first.
func (h ChatHandler) Messages(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	result, err := queries.Ask[chathandlers.ListMessagesQuery, []dto.Message](
		c.Request.Context(),
		h.Queries,
		chathandlers.ListMessagesQuery{
			ConversationID: conversationID,
			ViewerID:       principal.ID,
			ViewerRoles:    principal.Roles,
		},
	)
	if err != nil {
		respondError(c, h.Logger, "list messages", err, "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	if result == nil {
		result = []dto.Message{}
	}
	c.JSON(http.StatusOK, result)
}

// Send posts a message. A repeated Idempotency-Key returns the first result.
func (h ChatHandler) Send(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := commands.Dispatch[chathandlers.SendMessageCommand, *dto.SendMessageResult](
		c.Request.Context(),
		h.Commands,
		chathandlers.SendMessageCommand{
			ConversationID:  conversationID,
			SenderID:        principal.ID,
			Text:            req.Text,
			Media:           req.Media,
			IdempotencyKeyV: c.GetHeader(IdempotencyKeyHeader),
			Now:             time.Now(),
		},
	)
	if err != nil {
		respondError(c, h.Logger, "send message", err, "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MarkRead flags the caller's unread messages in a conversation as read.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	result, err := commands.Dispatch[chathandlers.MarkReadCommand, *dto.MarkReadResult](
		c.Request.Context(),
		h.Commands,
		chathandlers.MarkReadCommand{ConversationID: conversationID, ViewerID: principal.ID},
	)
	if err != nil {
		respondError(c, h.Logger, "mark read", err, "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Upload stores the multipart field "file" and returns its public URL.
func (h ChatHandler) Upload(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes()+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, h.Logger, "upload media", domainchat.ErrMediaTooLarge)
			return
		}
		respondError(c, h.Logger, "upload media", domainchat.ErrMediaRequired)
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, h.Logger, "upload media", err, "conversation_id", conversationID)
		return
	}
	defer file.Close()

	result, err := commands.Dispatch[chathandlers.UploadMediaCommand, *dto.UploadResult](
		c.Request.Context(),
		h.Commands,
		chathandlers.UploadMediaCommand{
			ConversationID: conversationID,
			UploaderID:     principal.ID,
			Filename:       header.Filename,
			ContentType:    header.Header.Get("Content-Type"),
			Size:           header.Size,
			Reader:         file,
		},
	)
	if err != nil {
		respondError(c, h.Logger, "upload media", err, "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ChatHandler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return chathandlers.DefaultMaxUploadBytes
}

func nonNilConversations(items []dto.Conversation) []dto.Conversation {
	if items == nil {
		return []dto.Conversation{}
	}
	return items
}

var _ ChatHTTP = (*ChatHandler)(nil)
