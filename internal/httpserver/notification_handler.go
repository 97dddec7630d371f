package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/internal/repository"
	"notification-service/internal/service"
	"notification-service/pkg/rbac"
)

// NotificationHandler serves the signed-in user's notifications. The user
// always comes from the token, never from the request.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

func (h *NotificationHandler) Register(g *gin.RouterGroup) {
	read := g.Group("", RequirePermission(rbac.PermissionReadNotification))
	read.GET("", h.List)
	read.GET("/all", h.All)
	read.GET("/unread", h.Unread)
	read.GET("/unread/count", h.UnreadCount)
	read.GET("/recent", h.Recent)
	read.GET("/active", h.Active)
	read.GET("/high-priority", h.HighPriority)
	read.GET("/type/:type", h.ByType)
	read.GET("/priority/:priority", h.ByPriority)
	read.GET("/related/:entityId", h.ByRelatedEntity)
	read.GET("/search", h.Search)
	read.GET("/:id", h.Get)

	update := g.Group("", RequirePermission(rbac.PermissionUpdateNotification))
	update.PUT("/read-all", h.MarkAllRead)
	update.PUT("/:id/read", h.MarkRead)
	update.PUT("/:id/dismiss", h.Dismiss)
	update.POST("/test", h.CreateTest)

	g.DELETE("/:id", RequirePermission(rbac.PermissionDeleteNotification), h.Delete)
}

// List returns one page, 0-based.
func (h *NotificationHandler) List(c *gin.Context) {
	page, err := queryInt(c, "page", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	size, err := queryInt(c, "size", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
		return
	}

	result, err := h.svc.GetPage(c.Request.Context(), currentUser(c), page, size)
	if err != nil {
		respondError(c, h.logger, "GetPage", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *NotificationHandler) All(c *gin.Context) {
	items, err := h.svc.GetAll(c.Request.Context(), currentUser(c))
	h.respondList(c, "GetAll", items, err)
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	items, err := h.svc.GetUnread(c.Request.Context(), currentUser(c))
	h.respondList(c, "GetUnread", items, err)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.svc.GetUnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.logger, "GetUnreadCount", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// Recent accepts an optional window such as "12h"; the service default
// applies otherwise.
func (h *NotificationHandler) Recent(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return
		}
		window = d
	}
	items, err := h.svc.GetRecent(c.Request.Context(), currentUser(c), window)
	h.respondList(c, "GetRecent", items, err)
}

func (h *NotificationHandler) Active(c *gin.Context) {
	items, err := h.svc.GetActive(c.Request.Context(), currentUser(c))
	h.respondList(c, "GetActive", items, err)
}

func (h *NotificationHandler) HighPriority(c *gin.Context) {
	items, err := h.svc.GetRecentHighPriorityUnread(c.Request.Context(), currentUser(c))
	h.respondList(c, "GetRecentHighPriorityUnread", items, err)
}

func (h *NotificationHandler) ByType(c *gin.Context) {
	t, err := model.ParseType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := h.svc.GetByType(c.Request.Context(), currentUser(c), t)
	h.respondList(c, "GetByType", items, err)
}

func (h *NotificationHandler) ByPriority(c *gin.Context) {
	p, err := model.ParsePriority(c.Param("priority"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := h.svc.GetByPriority(c.Request.Context(), currentUser(c), p)
	h.respondList(c, "GetByPriority", items, err)
}

func (h *NotificationHandler) ByRelatedEntity(c *gin.Context) {
	items, err := h.svc.GetByRelatedEntity(c.Request.Context(), currentUser(c), c.Param("entityId"))
	h.respondList(c, "GetByRelatedEntity", items, err)
}

// Search combines optional status, type, priority, since (RFC 3339) and
// active=true filters.
func (h *NotificationHandler) Search(c *gin.Context) {
	var f repository.Filter
	var err error

	if raw := c.Query("status"); raw != "" {
		if f.Status, err = model.ParseStatus(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if raw := c.Query("type"); raw != "" {
		if f.Type, err = model.ParseType(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if raw := c.Query("priority"); raw != "" {
		if f.Priority, err = model.ParsePriority(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if raw := c.Query("since"); raw != "" {
		if f.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since, want RFC 3339"})
			return
		}
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active"})
			return
		}
		if active {
			f.ActiveAt = time.Now()
		}
	}

	items, err := h.svc.List(c.Request.Context(), currentUser(c), f)
	h.respondList(c, "List", items, err)
}

func (h *NotificationHandler) Get(c *gin.Context) {
	n, err := h.svc.GetByID(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, h.logger, "GetByID", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	ok, err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c))
	h.respondChanged(c, "MarkRead", ok, err)
}

func (h *NotificationHandler) Dismiss(c *gin.Context) {
	ok, err := h.svc.MarkDismissed(c.Request.Context(), c.Param("id"), currentUser(c))
	h.respondChanged(c, "MarkDismissed", ok, err)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	count, err := h.svc.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.logger, "MarkAllRead", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	ok, err := h.svc.Delete(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, h.logger, "Delete", err)
		return
	}
	if !ok {
		respondNotFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

type createTestRequest struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// CreateTest creates a notification for the caller, SYSTEM_NOTIFICATION
// unless a type is given.
func (h *NotificationHandler) CreateTest(c *gin.Context) {
	var req createTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	t := model.TypeSystemNotification
	if strings.TrimSpace(req.Type) != "" {
		parsed, err := model.ParseType(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t = parsed
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.svc.Create(c.Request.Context(), service.CreateRequest{
		UserID:   currentUser(c),
		Type:     t,
		Title:    req.Title,
		Message:  req.Message,
		Priority: priority,
		Metadata: map[string]any{"source": "test"},
	})
	if err != nil {
		respondError(c, h.logger, "Create", err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *NotificationHandler) respondList(c *gin.Context, op string, items []*model.Notification, err error) {
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	if items == nil {
		items = []*model.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

func (h *NotificationHandler) respondChanged(c *gin.Context, op string, ok bool, err error) {
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	if !ok {
		respondNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
