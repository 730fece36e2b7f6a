package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/monitor"
)

// Constants for route prefixing. Versioning is explicit to allow
// non-breaking additions.
const (
	APIVersion     = "v1"
	DefaultAddress = "127.0.0.1:8787"
)

// ServerOptions configures the HTTP server. Timeouts are conservative
// defaults suitable for a local control-plane server.
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            zerolog.Logger
}

// Server hosts the status HTTP API for the relay daemon.
type Server struct {
	http      *http.Server
	lifecycle *core.Lifecycle
	servers   *core.ServerList
	meter     *monitor.Meter
	logger    zerolog.Logger
	opts      ServerOptions
}

// NewServer constructs a new API server over the shared lifecycle,
// server list, and throughput meter. It does not start listening until
// Start is called.
func NewServer(lifecycle *core.Lifecycle, servers *core.ServerList, meter *monitor.Meter, opts ServerOptions) *Server {
	if lifecycle == nil {
		panic("api.NewServer: lifecycle is nil")
	}
	if servers == nil {
		panic("api.NewServer: servers is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), withBasicMiddleware(opts.Logger))

	s := &Server{
		lifecycle: lifecycle,
		servers:   servers,
		meter:     meter,
		logger:    opts.Logger,
		opts:      opts,
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           engine,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
			BaseContext: func(_ net.Listener) context.Context {
				return context.Background()
			},
		},
	}

	group := engine.Group("/" + APIVersion)
	group.GET("/healthz", s.handleHealthz)
	group.GET("/status", s.handleStatus)

	return s
}

// Start begins serving HTTP in a background goroutine. It returns
// immediately; use Stop for graceful shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("api: listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("api: ListenAndServe error")
		}
	}()
}

// Stop gracefully shuts down the server, waiting up to ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// handleHealthz is a simple readiness/liveness endpoint.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the current lifecycle and per-upstream snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	life := s.lifecycle.Snapshot()
	snapshot := s.servers.Servers()
	var throughputs map[string]monitor.Throughput
	if s.meter != nil {
		throughputs = s.meter.Throughputs()
	}
	resp := FromLifecycleAndServers(life, snapshot, throughputs)
	c.JSON(http.StatusOK, resp)
}

// withBasicMiddleware logs method/path/status/duration through logger. No
// CORS or auth: this is a local control-plane service.
func withBasicMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := TimeNow()
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("api request")
	}
}
