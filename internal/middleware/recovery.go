package middleware

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
)

// Recovery catches panics, logs a JSON panic record with stack trace,
// and responds with the Registry V2 error envelope instead of crashing
// the process.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		traceID, _ := c.Get(ContextKeyTraceID)
		traceIDStr, _ := traceID.(string)
		if traceIDStr == "" {
			traceIDStr = "unknown"
		}

		stack := make([]byte, 4096)
		length := runtime.Stack(stack, false)
		stackStr := string(stack[:length])
		errMsg := fmt.Sprintf("%v", recovered)

		log.Printf(`{"timestamp":"%s","level":"panic","trace_id":"%s","method":"%s","path":"%s","error":"%s","stack":"%s"}`,
			time.Now().Format(time.RFC3339),
			traceIDStr,
			c.Request.Method,
			c.Request.URL.Path,
			strings.ReplaceAll(errMsg, `"`, `\"`),
			strings.ReplaceAll(strings.ReplaceAll(stackStr, "\n", "\\n"), `"`, `\"`),
		)

		status, envelope := apperror.ToEnvelope(fmt.Errorf("panic: %v", recovered))
		c.JSON(status, envelope)
		c.Abort()
	})
}
