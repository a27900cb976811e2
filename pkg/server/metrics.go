package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // current active connections
	FailedAuths       atomic.Int64 // failed authentication attempts
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Room counters
	RoomJoins  atomic.Int64 // room joins during this run
	RoomLeaves atomic.Int64 // explicit room leaves during this run

	// Message counters
	MessagesSent  atomic.Int64 // chat messages relayed
	StatusUpdates atomic.Int64 // single-message delivered/seen acknowledgements
	SeenUpdates   atomic.Int64 // messages marked seen via bulk updates
	TypingEvents  atomic.Int64 // inbound typing signals
	FramesDropped atomic.Int64 // outbound frames dropped on full client buffers

	// Token counters
	TokensExpired atomic.Int64 // expired tokens purged by cleanup
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable
// struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	RoomJoins  int64 `json:"room_joins"`
	RoomLeaves int64 `json:"room_leaves"`

	MessagesSent  int64 `json:"messages_sent"`
	StatusUpdates int64 `json:"status_updates"`
	SeenUpdates   int64 `json:"seen_updates"`
	TypingEvents  int64 `json:"typing_events"`
	FramesDropped int64 `json:"frames_dropped"`

	TokensExpired int64 `json:"tokens_expired"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		RoomJoins:         m.RoomJoins.Load(),
		RoomLeaves:        m.RoomLeaves.Load(),
		MessagesSent:      m.MessagesSent.Load(),
		StatusUpdates:     m.StatusUpdates.Load(),
		SeenUpdates:       m.SeenUpdates.Load(),
		TypingEvents:      m.TypingEvents.Load(),
		FramesDropped:     m.FramesDropped.Load(),
		TokensExpired:     m.TokensExpired.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"messages", s.MessagesSent,
		"seen_updates", s.SeenUpdates,
		"typing_events", s.TypingEvents,
		"frames_dropped", s.FramesDropped,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
