package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until a shutdown signal arrives. The
// optional api handler is mounted under the same listener as the websocket
// endpoint.
func (s *Server) Run(api http.Handler) error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	st := s.store
	defer func() { _ = st.NonTx().Close() }()

	// Seed users and conversations from YAML config if provided
	if s.cfg.SeedFile != "" {
		if err := LoadSeedFromYAML(s.cfg.SeedFile, st.NonTx(), s.auth); err != nil {
			slog.Error("failed to load seed config", "err", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	if api != nil {
		mux.Handle("/api/", api)
	}

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("chatrelay server listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "err", err)
		}
	}()
	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Purge expired tokens periodically
	s.startTokenCleanup()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-s.ctx.Done():
	}

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server and closes every live connection.
func (s *Server) Shutdown() {
	s.cancel()
	s.sessions.CloseAll()
}

// startTokenCleanup purges expired tokens on a fixed interval until the
// server context is cancelled.
func (s *Server) startTokenCleanup() {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.auth.Cleanup()
				if err != nil {
					slog.Error("token cleanup failed", "err", err)
					continue
				}
				if deleted > 0 {
					s.metrics.TokensExpired.Add(deleted)
					slog.Debug("purged expired tokens", "count", deleted)
				}
			}
		}
	}()
}
