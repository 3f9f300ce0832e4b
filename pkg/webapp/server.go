// Package webapp wires the HTTP surface: the browser client, the Twilio
// endpoints, the relay websocket and a small read-only call API.
package webapp

import (
	"context"
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/convrelay/pkg/callevents"
	"github.com/go-go-golems/convrelay/pkg/relay"
	"github.com/go-go-golems/convrelay/pkg/sessions"
	"github.com/go-go-golems/convrelay/pkg/transcript"
	"github.com/go-go-golems/convrelay/pkg/twilio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultShutdownTimeout = 15 * time.Second

type Config struct {
	Addr string
	// Listener, when set, is used instead of listening on Addr.
	Listener net.Listener
	Store    *sessions.Store
	Relay    *relay.Server
	Twilio   *twilio.Handlers
	// Static is served at /. Optional.
	Static fs.FS
	// Bus is run alongside the HTTP server and closed on shutdown. Optional.
	Bus             *callevents.Bus
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("webapp: session store is nil")
	}
	if cfg.Relay == nil {
		return nil, errors.New("webapp: relay server is nil")
	}
	if cfg.Twilio == nil {
		return nil, errors.New("webapp: twilio handlers are nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.registerHTTPHandlers()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

func (s *Server) registerHTTPHandlers() {
	if s.cfg.Static != nil {
		s.mux.Handle("/", http.FileServerFS(s.cfg.Static))
	}
	s.mux.HandleFunc("/get-token", s.cfg.Twilio.Token)
	s.mux.HandleFunc("/voice", s.cfg.Twilio.Voice)
	s.mux.Handle("/ws", s.cfg.Relay)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/calls", s.handleListCalls)
	s.mux.HandleFunc("GET /api/calls/{callSid}", s.handleGetCall)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.cfg.Relay.ActiveConnections(),
		"calls":       s.cfg.Store.Len(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": s.cfg.Store.List()})
}

type callResponse struct {
	CallSID         string               `json:"call_sid"`
	Turns           int                  `json:"turns"`
	EstimatedTokens int                  `json:"estimated_tokens"`
	Messages        []transcript.Message `json:"messages"`
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("callSid")
	t, ok := s.cfg.Store.Get(sid)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "call not found", "call_sid": sid})
		return
	}
	msgs := t.Snapshot()
	writeJSON(w, http.StatusOK, callResponse{
		CallSID:         sid,
		Turns:           t.Turns(),
		EstimatedTokens: transcript.EstimateTokens(msgs),
		Messages:        msgs,
	})
}

// Run serves until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then drains relay connections and closes the event bus.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, egCtx := errgroup.WithContext(ctx)

	if s.cfg.Bus != nil {
		eg.Go(func() error {
			if err := s.cfg.Bus.Run(egCtx); err != nil {
				return errors.Wrap(err, "event router")
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Str("component", "webapp").Msg("shutting down")
		return s.shutdown()
	})

	eg.Go(func() error {
		var err error
		if s.cfg.Listener != nil {
			log.Info().Str("component", "webapp").Str("addr", s.cfg.Listener.Addr().String()).Msg("starting convrelay server")
			err = s.server.Serve(s.cfg.Listener)
		} else {
			log.Info().Str("component", "webapp").Str("addr", s.cfg.Addr).Msg("starting convrelay server")
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "webapp").Msg("server listen error")
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("component", "webapp").Msg("http shutdown error")
		firstErr = err
	}
	if err := s.cfg.Relay.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("component", "webapp").Msg("relay drain error")
		if firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.Bus != nil {
		if err := s.cfg.Bus.Close(); err != nil {
			log.Error().Err(err).Str("component", "webapp").Msg("event bus close error")
		}
	}
	log.Info().Str("component", "webapp").Msg("server shutdown complete")
	return firstErr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
