// Package server exposes the orchestrator and action queue over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/orchestrator"
	"github.com/zulandar/admitdesk/internal/session"
)

// Opts holds the dependencies of the HTTP server.
type Opts struct {
	Orchestrator *orchestrator.Orchestrator
	Actions      *actions.Manager
	Sessions     *session.Store
	Port         int
	Logger       *slog.Logger
	Out          io.Writer
}

func (o *Opts) validate() error {
	if o.Orchestrator == nil {
		return fmt.Errorf("server: orchestrator is required")
	}
	if o.Actions == nil {
		return fmt.Errorf("server: action manager is required")
	}
	if o.Sessions == nil {
		return fmt.Errorf("server: session store is required")
	}
	if o.Port <= 0 {
		o.Port = 8080
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), identity())
	registerRoutes(router, &handlers{
		orch:     opts.Orchestrator,
		actions:  opts.Actions,
		sessions: opts.Sessions,
		logger:   opts.Logger,
	})
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "admitdesk listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
