// Package registryapi implements the Registry V2 HTTP surface: request
// routing, digest/content-type enforcement, and response-header
// assembly over the blockstore/blobstore/uploadsession/manifeststore
// layers.
package registryapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/config"
	"github.com/kcsanjeeb/dedup-registry/internal/manifeststore"
	"github.com/kcsanjeeb/dedup-registry/internal/middleware"
	"github.com/kcsanjeeb/dedup-registry/internal/uploadsession"
)

// Server holds the storage layers an HTTP request needs and knows
// nothing about transport beyond gin.Context.
type Server struct {
	Blobs     *blobstore.Store
	Uploads   *uploadsession.Manager
	Manifests *manifeststore.Store

	rateLimitMW gin.HandlerFunc
}

// New builds a Server over already-opened storage layers.
func New(blobs *blobstore.Store, uploads *uploadsession.Manager, manifests *manifeststore.Store) *Server {
	return &Server{Blobs: blobs, Uploads: uploads, Manifests: manifests}
}

// WithRateLimit enables per-client rate limiting on the upload-session
// endpoints only — GET/HEAD traffic against blobs and manifests is
// never throttled.
func (s *Server) WithRateLimit(cfg config.RateLimitConfig, limiter middleware.Limiter) *Server {
	s.rateLimitMW = middleware.RateLimit(cfg, limiter)
	return s
}

// Router assembles the gin engine: the ambient middleware chain
// (logging, panic recovery, metrics) plus the Registry V2 route table.
// Gin cannot mix a catch-all with sibling static routes on the same
// prefix, and repository names may themselves contain "/" segments, so
// everything under /v2/ — the root "/v2/" ping and /v2/_catalog included
// — goes through the single catch-all and is dispatched by hand in
// dispatch.go, the same shape the teacher's controller uses.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logger(), middleware.Metrics())

	r.GET("/metrics", gin.WrapH(metricsHandler()))

	v2 := r.Group("/v2")
	{
		v2.GET("", s.handlePing)
		// "/v2/" reaches the catch-all with path "/"; a static "/" route
		// beside "/*path" would panic at registration.
		v2.Any("/*path", func(c *gin.Context) {
			if c.Param("path") == "/" && c.Request.Method == http.MethodGet {
				s.handlePing(c)
				return
			}
			s.dispatch(c)
		})
	}
	return r
}
