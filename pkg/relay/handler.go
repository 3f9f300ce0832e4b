// Package relay runs ConversationRelay call sessions over websocket connections.
//
// Each connection gets one Handler. A reader goroutine pulls frames off the
// socket and a single dispatcher goroutine applies them in arrival order, so a
// turn (user append, completion, assistant append, reply) always commits
// before the next frame is looked at. Frames received before the peer closes
// are still processed. Handlers share nothing but the session store.
package relay

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/convrelay/pkg/callevents"
	"github.com/go-go-golems/convrelay/pkg/completion"
	"github.com/go-go-golems/convrelay/pkg/relay/protocol"
	"github.com/go-go-golems/convrelay/pkg/sessions"
	"github.com/go-go-golems/convrelay/pkg/transcript"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTurnTimeout  = 45 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultApology      = "Sorry, I'm having trouble answering right now. Could you say that again?"

	defaultQueueSize = 32
)

// Conn is the subset of *websocket.Conn a handler uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// HandlerConfig wires a Handler to its connection and shared dependencies.
type HandlerConfig struct {
	ConnID       string
	Conn         Conn
	Store        *sessions.Store
	Gateway      completion.Gateway
	SystemPrompt string
	// Apology is spoken when a turn fails.
	Apology      string
	Events       callevents.Publisher
	TurnTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// Handler runs one call session over a single relay connection.
type Handler struct {
	connID       string
	conn         Conn
	store        *sessions.Store
	gateway      completion.Gateway
	systemPrompt string
	apology      string
	events       callevents.Publisher
	turnTimeout  time.Duration
	writeTimeout time.Duration
	queueSize    int

	// set and read by the dispatcher goroutine only
	cancel   context.CancelFunc
	writeErr error

	mu         sync.Mutex
	state      State
	callSID    string
	transcript *transcript.Transcript
}

// NewHandler validates cfg and fills in default timeouts, apology and queue size.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Conn == nil {
		return nil, errors.New("relay handler: conn is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("relay handler: session store is nil")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("relay handler: completion gateway is nil")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, errors.New("relay handler: system prompt is empty")
	}
	h := &Handler{
		connID:       cfg.ConnID,
		conn:         cfg.Conn,
		store:        cfg.Store,
		gateway:      cfg.Gateway,
		systemPrompt: cfg.SystemPrompt,
		apology:      cfg.Apology,
		events:       cfg.Events,
		turnTimeout:  cfg.TurnTimeout,
		writeTimeout: cfg.WriteTimeout,
		queueSize:    cfg.QueueSize,
		state:        StateAwaitingSetup,
	}
	if h.apology == "" {
		h.apology = DefaultApology
	}
	if h.events == nil {
		h.events = callevents.NopPublisher{}
	}
	if h.turnTimeout <= 0 {
		h.turnTimeout = DefaultTurnTimeout
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}
	if h.queueSize <= 0 {
		h.queueSize = defaultQueueSize
	}
	return h, nil
}

func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) CallSID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callSID
}

// Run serves the connection until it closes or ctx is done. The returned
// error is a *ConnectionError for transport failures and nil for a normal
// close.
//
// A normal close from the peer only stops intake: frames already read are
// still dispatched in order. A transport error or ctx ending aborts the
// in-flight turn and skips whatever is still queued.
func (h *Handler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.cancel = cancel
	stop := context.AfterFunc(ctx, func() { _ = h.conn.Close() })
	defer stop()

	h.logger().Debug().Msg("relay connection opened")

	frames := make(chan []byte, h.queueSize)
	var readErr error
	go func() {
		defer close(frames)
		readErr = h.readLoop(ctx, frames)
		if readErr != nil {
			cancel()
		}
	}()

	skipped := 0
	for frame := range frames {
		if ctx.Err() != nil {
			skipped++
			continue
		}
		h.handleFrame(ctx, frame)
	}
	if skipped > 0 {
		h.logger().Debug().Int("frames", skipped).Msg("skipped queued frames after abort")
	}

	err := readErr
	if err == nil && h.writeErr != nil {
		err = h.writeErr
	}
	h.teardown(err)
	return err
}

func (h *Handler) readLoop(ctx context.Context, frames chan<- []byte) error {
	for {
		mt, data, err := h.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isNormalClose(err) {
				return nil
			}
			return &ConnectionError{Op: "read", Err: err}
		}
		if mt != websocket.TextMessage {
			h.logger().Debug().Int("message_type", mt).Msg("ignoring non-text frame")
			continue
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return nil
		}
	}
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func (h *Handler) handleFrame(ctx context.Context, frame []byte) {
	ev, err := protocol.DecodeInbound(frame)
	if err != nil {
		e := h.logger().Warn().Err(err)
		var perr *protocol.ProtocolDecodeError
		if errors.As(err, &perr) {
			e = e.Str("code", perr.Code).Str("frame_type", perr.Type)
		}
		e.Int("bytes", len(frame)).Msg("dropping malformed frame")
		return
	}

	switch e := ev.(type) {
	case protocol.Setup:
		h.onSetup(ctx, e)
	case protocol.Prompt:
		h.onPrompt(ctx, e)
	case protocol.Interrupt:
		h.logger().Info().
			Int64("duration_until_interrupt_ms", e.DurationUntilInterruptMs).
			Int("utterance_len", len(e.UtteranceUntilInterrupt)).
			Msg("caller interrupted playback")
		h.publish(ctx, callevents.Event{Type: callevents.TypeCallInterrupted})
	case protocol.DTMF:
		h.logger().Info().Str("digit", e.Digit).Msg("dtmf received")
	case protocol.PlatformError:
		h.logger().Warn().Str("description", e.Description).Msg("platform reported an error")
	case protocol.Unknown:
		h.logger().Warn().Str("frame_type", e.Type).Msg("ignoring unrecognized frame type")
	default:
		h.logger().Warn().Str("frame_type", ev.EventType()).Msg("unhandled inbound event")
	}
}

func (h *Handler) onSetup(ctx context.Context, s protocol.Setup) {
	t := transcript.New(h.systemPrompt)

	h.mu.Lock()
	prevSID, prevT := h.callSID, h.transcript
	h.callSID = s.CallSID
	h.transcript = t
	h.state = StateActive
	h.mu.Unlock()

	if prevSID != "" && prevSID != s.CallSID {
		h.store.RemoveIfCurrent(prevSID, prevT)
		h.logger().Info().Str("previous_call_sid", prevSID).Msg("connection rebound to a new call")
	}
	h.store.Put(s.CallSID, t)

	h.logger().Info().
		Str("session_id", s.SessionID).
		Str("direction", s.Direction).
		Msg("call setup")
	h.publish(ctx, callevents.Event{Type: callevents.TypeCallSetup})
}

func (h *Handler) onPrompt(ctx context.Context, p protocol.Prompt) {
	h.mu.Lock()
	t := h.transcript
	h.mu.Unlock()

	if t == nil {
		t = transcript.New(h.systemPrompt)
		h.logger().Warn().Err(ErrUnboundSession).Msg("answering prompt from a transient transcript")
		h.publish(ctx, callevents.Event{Type: callevents.TypePromptUnbound})
	}

	t.Append(transcript.User(p.VoicePrompt))
	snapshot := t.Snapshot()
	h.logger().Debug().Str("prompt", p.VoicePrompt).Msg("prompt received")

	start := time.Now()
	turnCtx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	reply, err := h.gateway.Complete(turnCtx, snapshot)
	cancel()
	latency := time.Since(start)

	if err == nil {
		err = checkReply(reply)
	}
	if err != nil {
		h.failTurn(ctx, t, completion.AsGenerationError(err), latency)
		return
	}

	t.Append(reply)
	turn := t.Turns()
	h.logger().Info().
		Int("turn", turn).
		Int("reply_len", len(reply.Content)).
		Dur("latency", latency).
		Msg("turn completed")
	h.logger().Debug().Str("reply", reply.Content).Msg("assistant reply")

	if err := h.send(protocol.NewReply(reply.Content)); err != nil {
		return
	}
	h.publish(ctx, callevents.Event{
		Type:         callevents.TypeTurnCompleted,
		Turn:         turn,
		LatencyMS:    latency.Milliseconds(),
		PromptTokens: transcript.EstimateTokens(snapshot),
	})
}

func checkReply(m transcript.Message) error {
	if m.Role != transcript.RoleAssistant {
		return &completion.GenerationError{Kind: completion.KindMalformed, Err: errors.Errorf("reply has role %q", m.Role)}
	}
	if strings.TrimSpace(m.Content) == "" {
		return &completion.GenerationError{Kind: completion.KindMalformed, Err: errors.New("reply is empty")}
	}
	return nil
}

// failTurn leaves the user message in place and tells the caller something
// went wrong, unless the connection is already going away.
func (h *Handler) failTurn(ctx context.Context, t *transcript.Transcript, gerr *completion.GenerationError, latency time.Duration) {
	h.logger().Warn().
		Err(gerr).
		Str("kind", string(gerr.Kind)).
		Int("attempts", gerr.Attempts).
		Dur("latency", latency).
		Msg("turn failed")
	h.publish(ctx, callevents.Event{
		Type:      callevents.TypeTurnFailed,
		Turn:      t.Turns(),
		LatencyMS: latency.Milliseconds(),
		Error:     gerr.Error(),
	})
	if ctx.Err() != nil {
		return
	}
	_ = h.send(protocol.NewReply(h.apology))
}

// send writes one frame. Only the dispatcher goroutine writes. A write
// failure closes the handler.
func (h *Handler) send(tok protocol.TextToken) error {
	data, err := protocol.Encode(tok)
	if err != nil {
		return errors.Wrap(err, "encode outbound frame")
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		cerr := &ConnectionError{Op: "write", Err: err}
		h.logger().Warn().Err(cerr).Msg("failed to write reply, closing connection")
		h.writeErr = cerr
		if h.cancel != nil {
			h.cancel()
		}
		return cerr
	}
	return nil
}

func (h *Handler) teardown(cause error) {
	h.mu.Lock()
	sid, t := h.callSID, h.transcript
	h.state = StateClosed
	h.mu.Unlock()

	removed := false
	if sid != "" {
		removed = h.store.RemoveIfCurrent(sid, t)
	}
	_ = h.conn.Close()

	ev := callevents.Event{Type: callevents.TypeCallClosed, Turn: t.Turns()}
	var e *zerolog.Event
	if cause != nil {
		e = h.logger().Warn().Err(cause)
		ev.Error = cause.Error()
	} else {
		e = h.logger().Info()
	}
	e.Bool("session_removed", removed).Int("turns", t.Turns()).Msg("relay connection closed")
	h.publish(context.Background(), ev)
}

func (h *Handler) publish(ctx context.Context, ev callevents.Event) {
	ev.ConnID = h.connID
	if ev.CallSID == "" {
		ev.CallSID = h.CallSID()
	}
	h.events.Publish(ctx, ev)
}

func (h *Handler) logger() *zerolog.Logger {
	l := log.With().Str("component", "relay").Str("conn_id", h.connID)
	if sid := h.CallSID(); sid != "" {
		l = l.Str("call_sid", sid)
	}
	lg := l.Logger()
	return &lg
}
