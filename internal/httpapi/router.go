// Package httpapi exposes job submission and status polling over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"outreach/internal/status"
	"outreach/internal/submit"
	logx "outreach/pkg/logx"
)

// Service is the submission surface the handlers call.
type Service interface {
	Submit(ctx context.Context, r submit.Request) (submit.Receipt, error)
	Status(ctx context.Context, jobID string) (status.JobStatus, error)
}

// NewRouter builds the gin engine with every route installed.
func NewRouter(svc Service, log logx.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(recovery(log), requestLog(log), errorHandler())

	engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := &handlers{svc: svc, log: log}
	jobs := engine.Group("/api/v1/jobs")
	{
		jobs.POST("", h.submit)
		jobs.GET("/:id", h.status)
	}
	return engine
}

// Server runs the router on an address until its context ends.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, handler http.Handler, log logx.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http serve")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}
