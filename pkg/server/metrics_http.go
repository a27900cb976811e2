package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :9702 by default, configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("chatrelay_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("chatrelay_connections_active", "Current active websocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("chatrelay_connections_total", "Lifetime websocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("chatrelay_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("chatrelay_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("chatrelay_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())

	write("chatrelay_room_joins_total", "Room joins.", "counter",
		m.RoomJoins.Load())
	write("chatrelay_room_leaves_total", "Explicit room leaves.", "counter",
		m.RoomLeaves.Load())

	write("chatrelay_messages_total", "Chat messages relayed.", "counter",
		m.MessagesSent.Load())
	write("chatrelay_status_updates_total", "Single-message status acknowledgements.", "counter",
		m.StatusUpdates.Load())
	write("chatrelay_seen_updates_total", "Messages marked seen via bulk updates.", "counter",
		m.SeenUpdates.Load())
	write("chatrelay_typing_events_total", "Inbound typing signals.", "counter",
		m.TypingEvents.Load())
	write("chatrelay_frames_dropped_total", "Outbound frames dropped on full client buffers.", "counter",
		m.FramesDropped.Load())

	write("chatrelay_tokens_expired_total", "Expired tokens purged by cleanup.", "counter",
		m.TokensExpired.Load())
}
