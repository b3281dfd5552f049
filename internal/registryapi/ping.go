package registryapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePing answers GET /v2/, the liveness/version probe every
// registry client issues before anything else.
func (s *Server) handlePing(c *gin.Context) {
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Status(http.StatusOK)
}
