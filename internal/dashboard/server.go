// Package dashboard serves the Shellyard HTTP API: session status, transcripts,
// operator commands, personas, models and a server-sent status stream.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/persona"
	"go.uber.org/zap"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Manager  *automation.Manager
	Personas persona.Catalog
	Gateway  gateway.Gateway
	Params   gateway.Params
	Port     int
	Out      io.Writer
	Logger   *zap.Logger

	// PollInterval is how often the event stream checks runner status.
	PollInterval time.Duration
	// Heartbeat is how often the event stream sends a keep-alive.
	Heartbeat time.Duration
}

func (o *StartOpts) applyDefaults() {
	if o.Port <= 0 {
		o.Port = 8080
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	opts.applyDefaults()

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
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}
	opts.Logger.Info("dashboard: listening", zap.Int("port", opts.Port))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("dashboard: manager is required")
	}
	if opts.Personas == nil {
		return nil, fmt.Errorf("dashboard: persona catalog is required")
	}
	opts.applyDefaults()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger.Named("dashboard")))
	registerRoutes(router, opts)
	return router, nil
}

// requestLogger logs each request at debug level.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("dashboard: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
