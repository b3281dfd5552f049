package registryapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
)

// handlePutManifest answers PUT /v2/<name>/manifests/<ref>.
func (s *Server) handlePutManifest(c *gin.Context, repo, ref string) {
	contentType := c.ContentType()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortError(c, apperror.Internal(err))
		return
	}

	digest, err := s.Manifests.Put(repo, ref, contentType, body)
	if err != nil {
		abortError(c, err)
		return
	}

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Location", "/v2/"+repo+"/manifests/"+digest)
	c.Header("Docker-Content-Digest", digest)
	c.Status(http.StatusCreated)
}

// handleGetManifest answers GET/HEAD /v2/<name>/manifests/<ref>.
func (s *Server) handleGetManifest(c *gin.Context, repo, ref string) {
	contentType, digest, content, err := s.Manifests.Get(repo, ref)
	if err != nil {
		abortError(c, err)
		return
	}

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Docker-Content-Digest", digest)
	c.Data(http.StatusOK, contentType, content)
}

// handleDeleteManifest answers DELETE /v2/<name>/manifests/<ref>.
func (s *Server) handleDeleteManifest(c *gin.Context, repo, ref string) {
	if err := s.Manifests.Delete(repo, ref); err != nil {
		abortError(c, err)
		return
	}
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Status(http.StatusAccepted)
}
