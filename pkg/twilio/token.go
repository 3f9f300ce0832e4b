// Package twilio issues browser access tokens and renders the TwiML that
// points a call at the relay websocket.
package twilio

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	DefaultTokenTTL = time.Hour

	accessTokenContentType = "twilio-fpa;v=1"
)

var ErrMissingCredentials = errors.New("missing required Twilio credentials")

type Credentials struct {
	AccountSID  string
	APIKey      string
	APISecret   string
	TwiMLAppSID string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccountSID) == "" ||
		strings.TrimSpace(c.APIKey) == "" ||
		strings.TrimSpace(c.APISecret) == "" ||
		strings.TrimSpace(c.TwiMLAppSID) == "" {
		return ErrMissingCredentials
	}
	return nil
}

type voiceGrant struct {
	Incoming struct {
		Allow bool `json:"allow"`
	} `json:"incoming"`
	Outgoing struct {
		ApplicationSID string `json:"application_sid"`
	} `json:"outgoing"`
}

type grants struct {
	Identity string      `json:"identity"`
	Voice    *voiceGrant `json:"voice,omitempty"`
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Grants grants `json:"grants"`
}

// NewIdentity names a browser client after the current time.
func NewIdentity(now time.Time) string {
	return fmt.Sprintf("web-client-%d", now.UnixMilli())
}

// NewAccessToken mints a Voice access token for identity that can place
// calls through the TwiML app and receive incoming ones.
func NewAccessToken(c Credentials, identity string, ttl time.Duration, now time.Time) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(identity) == "" {
		return "", errors.New("access token identity is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	vg := &voiceGrant{}
	vg.Incoming.Allow = true
	vg.Outgoing.ApplicationSID = c.TwiMLAppSID

	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", c.APIKey, now.Unix()),
			Issuer:    c.APIKey,
			Subject:   c.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Grants: grants{Identity: identity, Voice: vg},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["cty"] = accessTokenContentType

	signed, err := tok.SignedString([]byte(c.APISecret))
	if err != nil {
		return "", errors.Wrap(err, "sign access token")
	}
	return signed, nil
}
