package middleware

import (
	"context"
	"time"

	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// requestIDFrom 只接受 uuid 格式的上游 ID，其余一律重新生成
func requestIDFrom(header string) string {
	if _, err := uuid.Parse(header); err == nil {
		return header
	}
	return uuid.NewString()
}

// RequestID 为每个请求分配 ID，写入响应头与 ctx，并记录出入日志
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := requestIDFrom(c.GetHeader(RequestIDHeader))

		c.Set("request_id", rid)
		c.Header(RequestIDHeader, rid)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, rid)
		c.Request = c.Request.WithContext(ctx)
		if sc := oteltrace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
			c.Header(TraceIDHeader, sc.TraceID().String())
		}

		c.Next()

		code := c.Writer.Status()
		outcome := "success"
		if code >= 400 {
			outcome = "fail"
		}
		logger.Info(c.Request.Context(), "request served",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status_code", code,
			"status", outcome,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func InjectUserIDToContext(c *gin.Context, userID string) {
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.UserIDKey, userID))
}
