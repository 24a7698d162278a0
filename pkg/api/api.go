// Package api exposes the healoor HTTP API: run control, the live
// event stream, healing review, and artifact serving.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/ethpandaops/healoor/pkg/engine"
	"github.com/ethpandaops/healoor/pkg/healing"
	"github.com/ethpandaops/healoor/pkg/registry"
	"github.com/ethpandaops/healoor/pkg/runner"
	"github.com/ethpandaops/healoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log logrus.FieldLogger
	cfg *config.Config

	store       store.Store
	registry    *registry.Registry
	runner      runner.Runner
	healing     *healing.Service
	presigner   *s3Presigner
	localServer *localArtifactServer

	heartbeat time.Duration

	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server. The engine is injected so tests
// (and alternative drivers) can supply their own implementation.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	eng engine.Engine,
) Server {
	s := &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		heartbeat: cfg.Execution.HeartbeatIntervalDuration(),
	}

	s.registry = registry.NewRegistry(
		log, cfg.Execution.CleanupGraceDuration(),
	)

	s.store = store.NewStore(log, &cfg.Database)
	s.healing = healing.NewService(log, s.store)
	s.runner = runner.NewRunner(
		log,
		&runner.Config{ExecutionTimeout: cfg.Engine.TimeoutDuration()},
		s.store,
		s.registry,
		eng,
		s.healing,
	)

	return s
}

// Start initializes the store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("starting runner: %w", err)
	}

	// Initialize artifact backends if configured.
	if s.cfg.Artifacts.S3 != nil && s.cfg.Artifacts.S3.Enabled {
		presigner, err := newS3Presigner(s.log, s.cfg.Artifacts.S3)
		if err != nil {
			return fmt.Errorf("initializing s3 presigner: %w", err)
		}

		s.presigner = presigner

		s.log.Info("S3 artifact serving enabled")
	}

	if s.cfg.Artifacts.Local != nil && s.cfg.Artifacts.Local.Enabled {
		s.localServer = newLocalArtifactServer(s.log, s.cfg.Artifacts.Local)

		s.log.Info("Local artifact serving enabled")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, the runner, and the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if err := s.runner.Stop(); err != nil {
		s.log.WithError(err).Warn("Runner stop error")
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
