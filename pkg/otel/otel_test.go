package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"notification-service/pkg/config"
)

func setupPropagator(t *testing.T) {
	t.Helper()
	shutdown, err := Init(config.TracingConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(shutdown)
}

func TestMQHeadersCarryTraceContext(t *testing.T) {
	setupPropagator(t)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := InjectHeaders(ctx, nil)
	if _, ok := headers["traceparent"].(string); !ok {
		t.Fatalf("headers = %v, want traceparent", headers)
	}

	consumeCtx, consume := MQConsumeSpan(context.Background(), headers, "notification.domain-events.q", "domain.new_message")
	defer consume.End()

	want := span.SpanContext().TraceID().String()
	if got := TraceID(consumeCtx); got != want {
		t.Errorf("TraceID() = %q, want %q", got, want)
	}
}

func TestMQConsumeSpanWithoutHeaders(t *testing.T) {
	setupPropagator(t)

	ctx, span := MQConsumeSpan(context.Background(), nil, "q", "domain.x")
	defer span.End()
	if got := TraceID(ctx); got != "" {
		t.Errorf("TraceID() = %q, want empty", got)
	}
}

func TestHeaderCarrier(t *testing.T) {
	c := HeaderCarrier{"traceparent": "00-abc-def-01", "x-retry": int32(2)}
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get(traceparent) = %q", got)
	}
	if got := c.Get("x-retry"); got != "" {
		t.Errorf("Get(x-retry) = %q, want empty for non-string", got)
	}
	c.Set("tracestate", "k=v")
	if len(c.Keys()) != 3 {
		t.Errorf("Keys() = %v", c.Keys())
	}
}

func TestGinMiddlewareContinuesTrace(t *testing.T) {
	setupPropagator(t)
	gin.SetMode(gin.TestMode)

	var seen string
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/notifications/:id", func(c *gin.Context) {
		seen = TraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/notifications/1", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if seen != traceID {
		t.Errorf("trace id in handler = %q, want %q", seen, traceID)
	}
}
