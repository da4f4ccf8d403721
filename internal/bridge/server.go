// Package bridge serves the session's snapshots to local presentation
// layers over a small REST API and a websocket stream.
package bridge

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/agentstation/utc"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Source is the session state the bridge exposes.
type Source interface {
	Get(class telemetry.EntityClass) (telemetry.Snapshot, bool)
	All() []telemetry.Snapshot
	ConnectionState() telemetry.ConnectionState
}

// Server is the local bridge.
type Server struct {
	source   Source
	hub      *Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   *zerolog.Logger
	started  utc.Time
	nextID   atomic.Uint64
}

// New creates a bridge over source.
func New(source Source, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		source: source,
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// local consumers only; the listen address is the boundary
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		started: utc.Now(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.logger), requestLogger(s.logger))

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/connectivity", s.handleConnectivity)
		api.GET("/snapshots", s.handleSnapshots)
		api.GET("/snapshots/:class", s.handleSnapshot)
	}
	r.GET("/ws", s.handleWebSocket)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "NOT_FOUND", "Route not found", c.Request.URL.Path)
	})
	return r
}

// Handler returns the HTTP handler of the bridge.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Publish forwards an accepted snapshot to every websocket client.
func (s *Server) Publish(snap telemetry.Snapshot) {
	s.hub.Broadcast(SnapshotMessage(snap))
}

// PublishState forwards a connection state change to every websocket client.
func (s *Server) PublishState(state telemetry.ConnectionState) {
	s.hub.Broadcast(ConnectivityMessage(state))
}

// Run listens on addr and serves until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.WrapTransport("listen", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Bridge listening")
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapTransport("serve", ln.Addr().String(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Bridge shutdown incomplete")
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, gin.H{
		"status":         "healthy",
		"service":        "opsync-bridge",
		"uptime_seconds": int64(time.Since(s.started.Time).Seconds()),
		"clients":        s.hub.ClientCount(),
	})
}

func (s *Server) handleConnectivity(c *gin.Context) {
	ok(c, newConnectivityView(s.source.ConnectionState()))
}

func (s *Server) handleSnapshots(c *gin.Context) {
	ok(c, s.source.All())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	class, err := telemetry.ParseEntityClass(c.Param("class"))
	if err != nil {
		failFromError(c, err)
		return
	}
	snap, found := s.source.Get(class)
	if !found {
		failFromError(c, errors.NewNotFoundError("snapshot", class.String()))
		return
	}
	ok(c, snap)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Warn().Err(err).Str("remote_addr", c.ClientIP()).Msg("Bridge upgrade failed")
		return
	}

	id := c.ClientIP() + "-" + strconv.FormatUint(s.nextID.Add(1), 10)
	client := NewClient(id, s.hub, conn, constants.BridgeClientBufferSize)

	snapshots := s.source.All()
	initial := make([]Message, 0, len(snapshots)+1)
	initial = append(initial, ConnectivityMessage(s.source.ConnectionState()))
	for _, snap := range snapshots {
		initial = append(initial, SnapshotMessage(snap))
	}

	if !s.hub.Register(client, initial) {
		_ = conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

// requestLogger logs requests with structured fields.
func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", c.ClientIP()).
			Msg("HTTP request")
	}
}

// recovery turns handler panics into 500 responses.
func recovery(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("panic", err).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Msg("Panic recovered")
				fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "An unexpected error occurred")
			}
		}()
		c.Next()
	}
}
