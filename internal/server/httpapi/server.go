// Package httpapi exposes the file, share and audit services over HTTP.
// Authenticated endpoints live under /api and carry a bearer token from
// the identity provider; /s/:token is the anonymous share surface.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/secfiles/filevault/internal/logging"
	"github.com/secfiles/filevault/internal/server/services"
)

type Server struct {
	address   string
	files     *services.FileService
	shares    *services.ShareService
	audit     *services.AuditService
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, logger logging.Logger, files *services.FileService,
	shares *services.ShareService, audit *services.AuditService, secretKey string) *Server {
	return &Server{
		address:   address,
		logger:    logger.With("module", "http_server"),
		files:     files,
		shares:    shares,
		audit:     audit,
		jwtSecret: []byte(secretKey),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// anonymous share surface
	router.GET("/s/:token", s.accessShare)

	api := router.Group("/api")
	api.Use(s.identityMiddleware())

	api.POST("/files", s.uploadFile)
	api.GET("/files", s.listFiles)
	api.GET("/files/:id", s.getFile)
	api.GET("/files/:id/status", s.fileStatus)
	api.GET("/files/:id/content", s.downloadFile)
	api.DELETE("/files/:id", s.deleteFile)

	api.POST("/files/:id/shares", s.issueShare)
	api.GET("/files/:id/shares", s.listShares)
	api.DELETE("/shares/:token", s.revokeShare)

	api.GET("/audit", s.listAudit)
	api.POST("/audit/:id/resolution", s.resolveIncident)

	return router
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
