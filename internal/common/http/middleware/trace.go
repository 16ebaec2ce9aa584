package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nageing/nano-oj-backend/pkg/utils/contextkey"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
)

// TraceContext puts trace and request ids into the request context and
// echoes them in the response headers, so every log line written below
// the handler carries them. Ids arriving from upstream are reused;
// missing ones are minted here.
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := contextkey.WithTraceID(c.Request.Context(), traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = contextkey.WithRequestID(ctx, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if raw := strings.TrimSpace(c.GetHeader(userIDHeader)); raw != "" {
			if userID, err := strconv.ParseInt(raw, 10, 64); err == nil && userID > 0 {
				ctx = contextkey.WithUserID(ctx, userID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
