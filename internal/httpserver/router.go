package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-service/pkg/otel"
	"notification-service/pkg/rbac"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is satisfied by *mq.Consumer.
type ConnectionChecker interface {
	IsConnected() bool
}

// RouterDeps holds everything the router wires. DB and Consumer may be nil
// when the service runs on the memory store or without the queue.
type RouterDeps struct {
	Notifications *NotificationHandler
	Admin         *AdminHandler
	WebSocket     http.Handler
	JWTSecret     string
	DB            Pinger
	Consumer      ConnectionChecker
	Logger        *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), TraceMiddleware(), RequestLogger(d.Logger), MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if d.Consumer != nil && !d.Consumer.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.WebSocket != nil {
		// The socket authenticates itself; browsers cannot set headers on upgrade.
		r.GET("/ws/notifications", gin.WrapH(d.WebSocket))
	}

	api := r.Group("/api", AuthMiddleware(d.JWTSecret))
	{
		d.Notifications.Register(api.Group("/notifications"))

		if d.Admin != nil {
			admin := api.Group("/admin/notifications", RequirePermission(rbac.PermissionMaintain))
			d.Admin.Register(admin)
		}
	}

	return r
}
