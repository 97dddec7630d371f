package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-service/internal/events"
	"notification-service/internal/service"
)

// AdminHandler exposes maintenance and cross-user creation to callers with
// rbac.PermissionMaintain.
type AdminHandler struct {
	svc       *service.NotificationService
	publisher *events.Publisher
	logger    *zap.Logger
}

func NewAdminHandler(svc *service.NotificationService, publisher *events.Publisher, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, publisher: publisher, logger: logger}
}

func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.POST("", h.Create)
	g.GET("/events/kinds", h.ListKinds)
	g.POST("/events", h.DispatchEvent)
	g.POST("/cleanup", h.Cleanup)
}

// Create accepts a full CreateRequest, including the target user.
func (h *AdminHandler) Create(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	n, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "Create", err)
		return
	}

	h.logger.Info("Admin created notification",
		zap.String("admin_id", currentUser(c)),
		zap.String("user_id", n.UserID),
		zap.String("notification_id", n.ID),
	)
	c.JSON(http.StatusCreated, n)
}

// DispatchEvent renders a domain event through the event registry, the same
// path the message queue consumer takes.
func (h *AdminHandler) DispatchEvent(c *gin.Context) {
	var ev events.DomainEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	n, err := h.publisher.Dispatch(c.Request.Context(), ev)
	if err != nil {
		respondError(c, h.logger, "Dispatch", err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// ListKinds reports the event kinds DispatchEvent and the queue consumer accept.
func (h *AdminHandler) ListKinds(c *gin.Context) {
	kinds := h.publisher.Kinds()
	c.JSON(http.StatusOK, gin.H{"kinds": kinds, "count": len(kinds)})
}

type cleanupRequest struct {
	// Durations such as "720h". Empty OlderThan uses the configured retention;
	// empty ArchiveDismissedAfter skips archiving.
	OlderThan             string `json:"older_than"`
	ArchiveDismissedAfter string `json:"archive_dismissed_after"`
}

func (h *AdminHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	olderThan, err := parseOptionalDuration(req.OlderThan)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than"})
		return
	}
	archiveAfter, err := parseOptionalDuration(req.ArchiveDismissedAfter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid archive_dismissed_after"})
		return
	}

	ctx := c.Request.Context()
	var archived int64
	if archiveAfter > 0 {
		if archived, err = h.svc.ArchiveDismissed(ctx, archiveAfter); err != nil {
			respondError(c, h.logger, "ArchiveDismissed", err)
			return
		}
	}

	removed, err := h.svc.Cleanup(ctx, olderThan)
	if err != nil {
		respondError(c, h.logger, "Cleanup", err)
		return
	}

	h.logger.Info("Admin cleanup finished",
		zap.String("admin_id", currentUser(c)),
		zap.Int64("archived", archived),
		zap.Int64("removed", removed),
	)
	c.JSON(http.StatusOK, gin.H{"archived": archived, "removed": removed})
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errNonPositiveDuration
	}
	return d, nil
}
