// Package server implements the chatrelay realtime server.
package server

import (
	"context"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/auth"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string // HTTP bind address for the websocket and REST endpoints (e.g. ":9700")
	DBPath      string // SQLite database path
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)
	SeedFile    string // YAML file defining users and conversations to create on startup

	TypingTTL       time.Duration // how long a typing indicator lives without refresh
	TokenTTL        time.Duration // access token lifetime
	CleanupInterval time.Duration // how often expired tokens are purged
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":9700",
		MetricsAddr:     ":9702",
		DBPath:          "chatrelay.db",
		TypingTTL:       3 * time.Second,
		TokenTTL:        auth.DefaultTokenTTL,
		CleanupInterval: time.Hour,
	}
}

// Server is the main chatrelay server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	rooms    *RoomManager
	typing   *TypingTracker
	metrics  *Metrics
	store    datastore.DataProviderFactory
	auth     *auth.Service
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		rooms:    NewRoomManager(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if deps.Store != nil {
		s.auth = auth.New(deps.Store.NonTx(), cfg.TokenTTL)
	}
	s.typing = NewTypingTracker(cfg.TypingTTL, s.onTypingExpired)
	return s
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Rooms returns the room manager.
func (s *Server) Rooms() *RoomManager {
	return s.rooms
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Auth returns the authentication service.
func (s *Server) Auth() *auth.Service {
	return s.auth
}
