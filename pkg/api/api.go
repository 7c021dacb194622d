// Package api serves analyzed trend data over HTTP. A background refresher
// periodically regenerates the report from the store and persists the
// series into a SQLite database the handlers query.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/api/seriesstore"
	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/trend"
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
	log         logrus.FieldLogger
	cfg         *config.ServerConfig
	analyzer    trend.Analyzer
	seriesStore seriesstore.Store
	refresher   *refresher
	httpServer  *http.Server

	reportMu sync.RWMutex
	markdown string
	html     string

	wg   sync.WaitGroup
	done chan struct{}
}

// NewServer creates a new API server reading analyzed trends from analyzer.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	analyzer trend.Analyzer,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		analyzer: analyzer,
		done:     make(chan struct{}),
	}
}

// Start initializes the series store, starts the HTTP server, and launches
// the background refresher once the server is listening.
func (s *server) Start(ctx context.Context) error {
	s.seriesStore = seriesstore.NewStore(s.log, s.cfg.DatabasePath)
	if err := s.seriesStore.Start(ctx); err != nil {
		return fmt.Errorf("starting series store: %w", err)
	}

	interval, err := s.cfg.RefreshIntervalDuration()
	if err != nil {
		return err
	}

	s.refresher = newRefresher(s.log, s.analyzer, s.seriesStore, s.setReports, interval)

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Start the refresher AFTER the API is listening so the server is
	// reachable while the first (potentially slow) pass runs.
	if err := s.refresher.Start(ctx); err != nil {
		return fmt.Errorf("starting refresher: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the series store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.refresher != nil {
		if err := s.refresher.Stop(); err != nil {
			s.log.WithError(err).Warn("Refresher stop error")
		}
	}

	if s.seriesStore != nil {
		if err := s.seriesStore.Stop(); err != nil {
			return fmt.Errorf("stopping series store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// setReports atomically swaps the rendered report documents.
func (s *server) setReports(markdown, html string) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	s.markdown = markdown
	s.html = html
}

func (s *server) getReports() (markdown, html string) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()

	return s.markdown, s.html
}
