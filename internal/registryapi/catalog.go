package registryapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
)

// handleCatalog answers GET /v2/_catalog: every known repository name,
// unpaginated.
func (s *Server) handleCatalog(c *gin.Context) {
	repos, err := s.Manifests.Catalog()
	if err != nil {
		abortError(c, apperror.Internal(err))
		return
	}
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// handleListTags answers GET /v2/<name>/tags/list.
func (s *Server) handleListTags(c *gin.Context, repo string) {
	tags, err := s.Manifests.ListTags(repo)
	if err != nil {
		abortError(c, err)
		return
	}
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.JSON(http.StatusOK, gin.H{"name": repo, "tags": tags})
}
