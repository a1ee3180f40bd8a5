// Package ingress is the stateless HTTP half of the system: it
// authenticates inbound Slack traffic, answers what it can synchronously,
// and hands everything else to the dispatcher before Slack's
// acknowledgment deadline expires.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"courier/internal/dispatch"
	"courier/internal/logging"
	"courier/internal/metrics"
)

// dispatchTimeout bounds the background work spawned per event; the HTTP
// response has long been written by then.
const dispatchTimeout = 30 * time.Second

// TaskDispatcher routes a parsed request; *dispatch.Dispatcher satisfies it.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
}

// Config holds the ingress process configuration.
type Config struct {
	ListenAddr    string
	SigningSecret string
	ReplayWindow  time.Duration
	DedupSize     int
	Debug         bool
}

// Server wires the gin engine, the signature check and the dispatcher.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	dispatcher TaskDispatcher
	seen       *lru.Cache[string, struct{}]
	logger     logging.Logger

	// syncDispatch makes event handling synchronous; tests only.
	syncDispatch bool
}

// NewServer constructs the ingress server.
func NewServer(cfg Config, dispatcher TaskDispatcher, logger logging.Logger) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("ingress requires a dispatcher")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("ingress requires a signing secret")
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 5 * time.Minute
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 512
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
		seen:       seen,
		logger:     logging.OrNop(logger),
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.POST("/slack/events", s.handleSlackEvents)

	return s, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ingress listening on %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ingress server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Shutting down ingress")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// dispatchInBackground runs the dispatcher off the request goroutine so
// the acknowledgment is never held hostage by queue latency.
func (s *Server) dispatchInBackground(req dispatch.Request) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			s.logger.Error("Dispatch failed: %v", err)
		}
	}
	if s.syncDispatch {
		run()
		return
	}
	go run()
}

// markSeen records an event id, reporting whether it was already known.
func (s *Server) markSeen(eventID string) bool {
	if eventID == "" {
		return false
	}
	_, dup := s.seen.Get(eventID)
	if !dup {
		s.seen.Add(eventID, struct{}{})
	}
	return dup
}
