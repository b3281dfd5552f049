package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logger emits one structured JSON line per request via the standard
// log package, carrying a short trace id, method/path/status/latency.
func Logger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		traceID := uuid.New().String()[:8]
		ctx.Set(ContextKeyTraceID, traceID)

		start := time.Now()
		ctx.Next()
		latency := time.Since(start)

		status := ctx.Writer.Status()
		level := "info"
		if status >= 400 {
			level = "error"
		}

		log.Printf(`{"timestamp":"%s","level":"%s","trace_id":"%s","method":"%s","path":"%s","status":%d,"latency_ms":%.2f,"ip":"%s"}`,
			time.Now().Format(time.RFC3339),
			level,
			traceID,
			ctx.Request.Method,
			ctx.Request.URL.Path,
			status,
			float64(latency.Nanoseconds())/1e6,
			ctx.ClientIP(),
		)
	}
}
