package relay

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/convrelay/pkg/callevents"
	"github.com/go-go-golems/convrelay/pkg/completion"
	"github.com/go-go-golems/convrelay/pkg/sessions"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultReadLimit int64 = 64 << 10

type ServerConfig struct {
	Store        *sessions.Store
	Gateway      completion.Gateway
	SystemPrompt string
	Apology      string
	Events       callevents.Publisher
	TurnTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Server upgrades each request to a websocket and runs one Handler on it.
// It holds no per-call state of its own.
type Server struct {
	cfg      ServerConfig
	baseCtx  context.Context
	stop     context.CancelFunc
	upgrader websocket.Upgrader
	tracker  *tracker
	closing  atomic.Bool
}

var _ http.Handler = (*Server)(nil)

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay server: session store is nil")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("relay server: completion gateway is nil")
	}
	if cfg.SystemPrompt == "" {
		return nil, errors.New("relay server: system prompt is empty")
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	base, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		baseCtx:  base,
		stop:     stop,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		tracker:  newTracker(),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("component", "relay_server").Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	connID := uuid.NewString()
	h, err := NewHandler(HandlerConfig{
		ConnID:       connID,
		Conn:         conn,
		Store:        s.cfg.Store,
		Gateway:      s.cfg.Gateway,
		SystemPrompt: s.cfg.SystemPrompt,
		Apology:      s.cfg.Apology,
		Events:       s.cfg.Events,
		TurnTimeout:  s.cfg.TurnTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	})
	if err != nil {
		log.Error().Err(err).Str("component", "relay_server").Msg("failed to build relay handler")
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	unregister, ok := s.tracker.register(connID, cancel)
	if !ok {
		log.Debug().Str("component", "relay_server").Str("conn_id", connID).Msg("relay closing, dropping new connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer unregister()

	log.Debug().
		Str("component", "relay_server").
		Str("conn_id", connID).
		Str("remote_addr", r.RemoteAddr).
		Msg("relay connection accepted")
	_ = h.Run(ctx)
}

// ActiveConnections is the number of handlers currently running.
func (s *Server) ActiveConnections() int {
	return s.tracker.count()
}

// Shutdown refuses new connections, closes the live ones and waits for their
// handlers to tear down or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	n := s.tracker.cancelAll()
	s.stop()
	log.Info().Str("component", "relay_server").Int("connections", n).Msg("closing relay connections")
	if !s.tracker.wait(ctx) {
		return errors.Wrap(ctx.Err(), "relay handlers did not drain")
	}
	return nil
}
