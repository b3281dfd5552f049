package registryapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// parseRepoPath splits a raw /v2/<repo>/<rest> path into the repository
// name and the registry-defined sub-path, in a way that tolerates
// multi-segment repository names (the OCI spec allows "/" in name).
func parseRepoPath(path string) (repo, subPath string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	for _, marker := range []string{"/manifests/", "/blobs/", "/tags/"} {
		if idx := strings.Index(path, marker); idx > 0 {
			return path[:idx], path[idx+1:], true
		}
	}
	return "", "", false
}

// dispatch routes every /v2/<repo>/... request to its handler by
// sub-path shape and HTTP method.
func (s *Server) dispatch(c *gin.Context) {
	raw := strings.TrimPrefix(c.Param("path"), "/")

	if raw == "_catalog" {
		s.handleCatalog(c)
		return
	}

	repo, subPath, ok := parseRepoPath(raw)
	if !ok || repo == "" {
		abortMalformedPath(c)
		return
	}

	switch {
	case strings.HasPrefix(subPath, "manifests/"):
		ref := strings.TrimPrefix(subPath, "manifests/")
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
			s.handleGetManifest(c, repo, ref)
		case http.MethodPut:
			s.handlePutManifest(c, repo, ref)
		case http.MethodDelete:
			s.handleDeleteManifest(c, repo, ref)
		default:
			c.Status(http.StatusMethodNotAllowed)
		}

	case strings.HasPrefix(subPath, "blobs/uploads"):
		if s.rateLimitMW != nil {
			s.rateLimitMW(c)
			if c.IsAborted() {
				return
			}
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(subPath, "blobs/uploads"), "/")
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			if c.Request.Method != http.MethodPost {
				c.Status(http.StatusMethodNotAllowed)
				return
			}
			s.handleInitiateUpload(c, repo)
			return
		}
		uploadID := rest
		switch c.Request.Method {
		case http.MethodPatch:
			s.handleUploadChunk(c, repo, uploadID)
		case http.MethodPut:
			s.handleCompleteUpload(c, repo, uploadID)
		case http.MethodDelete:
			s.handleAbortUpload(c, repo, uploadID)
		default:
			c.Status(http.StatusMethodNotAllowed)
		}

	case strings.HasPrefix(subPath, "blobs/"):
		digest := strings.TrimPrefix(subPath, "blobs/")
		switch c.Request.Method {
		case http.MethodHead:
			s.handleCheckBlob(c, repo, digest)
		case http.MethodGet:
			s.handleGetBlob(c, repo, digest)
		default:
			c.Status(http.StatusMethodNotAllowed)
		}

	case subPath == "tags/list":
		s.handleListTags(c, repo)

	default:
		abortMalformedPath(c)
	}
}

func abortMalformedPath(c *gin.Context) {
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Status(http.StatusNotFound)
}
