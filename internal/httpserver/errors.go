package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-service/internal/events"
	"notification-service/internal/model"
	"notification-service/internal/repository"
	"notification-service/pkg/logger"
)

const notFoundMessage = "notification not found or access denied"

var errNonPositiveDuration = errors.New("duration must be positive")

func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
}

// respondError maps service errors to status codes. Anything unexpected is
// logged and hidden behind a generic 500.
func respondError(c *gin.Context, l *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondNotFound(c)
	case errors.Is(err, model.ErrInvalidNotification),
		errors.Is(err, model.ErrUnknownType),
		errors.Is(err, events.ErrInvalidEvent),
		errors.Is(err, events.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.WithTrace(c.Request.Context(), l).Error(op+" failed",
			zap.String("user_id", currentUser(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
