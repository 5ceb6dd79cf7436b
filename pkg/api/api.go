package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/ethpandaops/testoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      store.Store
	sequencer  *sequencer.Sequencer
	httpServer *http.Server
	addr       string
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server answering from the given history
// store. The server owns the store's lifecycle.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	st store.Store,
) Server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		store:     st,
		sequencer: sequencer.New(log, st),
		done:      make(chan struct{}),
	}
}

// Start opens the history store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
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
		if stopErr := s.store.Stop(); stopErr != nil {
			s.log.WithError(stopErr).Warn("Failed to stop store")
		}

		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.addr = ln.Addr().String()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.addr).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the address the server is listening on.
func (s *server) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

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

	if err := s.store.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	s.log.Info("API server stopped")

	return nil
}
