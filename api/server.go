// Package api serves a read-only HTTP view of the scheduler and the dedup
// store.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/crawlerdb"
	"github.com/emilyzhang/scrapr/logger"
	"github.com/emilyzhang/scrapr/scheduler"
)

const shutdownTimeout = 5 * time.Second

// Store is the part of the dedup store the API reads.
type Store interface {
	GetResource(ctx context.Context, url string) (*crawlerdb.Resource, error)
	ListResources(ctx context.Context, limit, offset int) ([]crawlerdb.Resource, error)
	CountResources(ctx context.Context) (int, error)
}

// StatusProvider reports the state of scheduled resources.
type StatusProvider interface {
	Status() []scheduler.ResourceStatus
}

// Server represents an API server containing a database client and a logger.
type Server struct {
	addr   string
	log    logger.Interface
	db     Store
	sched  StatusProvider
	router *chi.Mux
}

// New creates a new API Server.
func New(cfg config.API, db Store, sched StatusProvider, log logger.Interface) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		addr:  cfg.Addr,
		log:   log,
		db:    db,
		sched: sched,
	}
	s.router = s.routes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}

// requestLogger logs every request through the server's logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("New request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
