package registryapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
)

// handleCheckBlob answers HEAD /v2/<name>/blobs/<digest>: existence and
// size, no body.
func (s *Server) handleCheckBlob(c *gin.Context, _ string, digest string) {
	size, reader, err := s.Blobs.Open(digest)
	if err != nil {
		abortError(c, err)
		return
	}
	reader.Close()

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Content-Length", strconv.FormatInt(size, 10))
	c.Header("Docker-Content-Digest", digest)
	c.Status(http.StatusOK)
}

// handleGetBlob answers GET /v2/<name>/blobs/<digest>, streaming the
// reconstructed blob without materializing it in memory.
func (s *Server) handleGetBlob(c *gin.Context, _ string, digest string) {
	size, reader, err := s.Blobs.Open(digest)
	if err != nil {
		abortError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Docker-Content-Digest", digest)
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", reader, nil)
}

// handleInitiateUpload answers POST /v2/<name>/blobs/uploads/.
func (s *Server) handleInitiateUpload(c *gin.Context, repo string) {
	id, err := s.Uploads.Initiate()
	if err != nil {
		abortError(c, apperror.Internal(err))
		return
	}

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Location", "/v2/"+repo+"/blobs/uploads/"+id)
	c.Header("Docker-Upload-UUID", id)
	c.Header("Range", "0-0")
	c.Status(http.StatusAccepted)
}

// handleUploadChunk answers PATCH /v2/<name>/blobs/uploads/<id>.
func (s *Server) handleUploadChunk(c *gin.Context, repo, id string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortError(c, apperror.Internal(err))
		return
	}

	newLen, err := s.Uploads.Append(id, body)
	if err != nil {
		abortError(c, err)
		return
	}

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Location", "/v2/"+repo+"/blobs/uploads/"+id)
	c.Header("Docker-Upload-UUID", id)
	c.Header("Range", "0-"+strconv.FormatInt(newLen-1, 10))
	c.Status(http.StatusAccepted)
}

// handleCompleteUpload answers PUT /v2/<name>/blobs/uploads/<id>?digest=.
// A non-empty request body is treated as the monolithic single-PUT
// shortcut: the whole blob content, never appended through PATCH.
func (s *Server) handleCompleteUpload(c *gin.Context, repo, id string) {
	digest := c.Query("digest")
	if digest == "" {
		abortError(c, apperror.MalformedDigest("missing digest query parameter"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortError(c, apperror.Internal(err))
		return
	}

	finalDigest, err := s.Uploads.Finalize(id, digest, body, s.Blobs)
	if err != nil {
		abortError(c, err)
		return
	}

	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Header("Location", "/v2/"+repo+"/blobs/"+finalDigest)
	c.Header("Docker-Content-Digest", finalDigest)
	c.Status(http.StatusCreated)
}

// handleAbortUpload answers DELETE /v2/<name>/blobs/uploads/<id>.
func (s *Server) handleAbortUpload(c *gin.Context, _, id string) {
	if err := s.Uploads.Abort(id); err != nil {
		abortError(c, err)
		return
	}
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.Status(http.StatusNoContent)
}

func abortError(c *gin.Context, err error) {
	status, envelope := apperror.ToEnvelope(err)
	c.Header("Docker-Distribution-Api-Version", "registry/2.0")
	c.AbortWithStatusJSON(status, envelope)
}
