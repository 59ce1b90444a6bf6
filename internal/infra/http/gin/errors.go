package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"neighborhub/internal/app/commands"
	chathandlers "neighborhub/internal/app/handlers/chat"
	"neighborhub/internal/app/middleware"
	"neighborhub/internal/app/queries"
	domainanalytics "neighborhub/internal/domain/analytics"
	domainchat "neighborhub/internal/domain/chat"
)

// statusFor classifies application errors into HTTP statuses. Anything
// unrecognised is an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainchat.ErrParticipantRequired),
		errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrScopeConflict),
		errors.Is(err, domainchat.ErrEmptyMessage),
		errors.Is(err, domainchat.ErrNoCounterpart),
		errors.Is(err, domainchat.ErrMediaRequired),
		errors.Is(err, domainchat.ErrMediaTooLarge),
		errors.Is(err, domainchat.ErrConversationIDMissing),
		errors.Is(err, domainanalytics.ErrProductRequired),
		errors.Is(err, domainanalytics.ErrInvalidProductType):
		return http.StatusBadRequest
	case errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, middleware.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domainchat.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, chathandlers.ErrMediaStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *slog.Logger, op string, err error, attrs ...any) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		message := err.Error()
		if status == http.StatusForbidden {
			message = "forbidden"
		}
		c.JSON(status, gin.H{"error": trimErrorPrefix(message)})
		return
	}
	if logger != nil {
		fields := append([]any{"error", err, "request_id", c.GetString("request_id")}, attrs...)
		if errors.Is(err, commands.ErrHandlerNotFound) || errors.Is(err, queries.ErrHandlerNotFound) {
			fields = append(fields, "misconfigured", true)
		}
		logger.Error(op+" failed", fields...)
	}
	if status == http.StatusServiceUnavailable {
		c.JSON(status, gin.H{"error": "service unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// trimErrorPrefix drops the "package: " prefix of sentinel errors.
func trimErrorPrefix(message string) string {
	for i := 0; i < len(message)-1; i++ {
		if message[i] == ':' && message[i+1] == ' ' {
			return message[i+2:]
		}
		if message[i] == ' ' {
			break
		}
	}
	return message
}
