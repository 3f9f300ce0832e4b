package twilio

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-go-golems/convrelay/pkg/assistant"
	"github.com/rs/zerolog/log"
)

// Handlers serves POST /get-token and POST /voice.
type Handlers struct {
	Credentials Credentials
	TokenTTL    time.Duration
	Profile     *assistant.Profile
	// PublicHost is advertised in the relay URL. The request host is used
	// when it is empty.
	PublicHost string
	Now        func() time.Time
}

type tokenResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token,omitempty"`
	Identity string `json:"identity,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	now := h.now()
	identity := NewIdentity(now)
	token, err := NewAccessToken(h.Credentials, identity, h.TokenTTL, now)
	if err != nil {
		log.Error().Err(err).Str("component", "twilio").Msg("failed to issue access token")
		writeJSON(w, http.StatusBadRequest, tokenResponse{Success: false, Error: err.Error()})
		return
	}
	log.Info().Str("component", "twilio").Str("identity", identity).Msg("issued access token")
	writeJSON(w, http.StatusOK, tokenResponse{Success: true, Token: token, Identity: identity})
}

func (h *Handlers) Voice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/xml")

	host := h.PublicHost
	if host == "" {
		host = r.Host
	}
	doc, err := h.voiceDocument(host)
	if err != nil {
		log.Error().Err(err).Str("component", "twilio").Msg("failed to render twiml")
		_, _ = w.Write(SayTwiML(ConnectErrorMessage))
		return
	}
	log.Debug().Str("component", "twilio").Str("call_sid", r.FormValue("CallSid")).Msg("served conversation relay twiml")
	_, _ = w.Write(doc)
}

func (h *Handlers) voiceDocument(host string) ([]byte, error) {
	url, err := RelayURL(host)
	if err != nil {
		return nil, err
	}
	return ConversationRelayTwiML(url, h.Profile)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
