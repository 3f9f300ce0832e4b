package twilio

import (
	"encoding/xml"
	"strings"

	"github.com/go-go-golems/convrelay/pkg/assistant"
	"github.com/pkg/errors"
)

const ConnectErrorMessage = "Sorry, there was an error connecting to the assistant."

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
}

type twimlConnect struct {
	Relay conversationRelay `xml:"ConversationRelay"`
}

type conversationRelay struct {
	URL                   string           `xml:"url,attr"`
	WelcomeGreeting       string           `xml:"welcomeGreeting,attr,omitempty"`
	TTSProvider           string           `xml:"ttsProvider,attr,omitempty"`
	Voice                 string           `xml:"voice,attr,omitempty"`
	TranscriptionProvider string           `xml:"transcriptionProvider,attr,omitempty"`
	SpeechModel           string           `xml:"speechModel,attr,omitempty"`
	Interruptible         string           `xml:"interruptible,attr,omitempty"`
	DTMFDetection         bool             `xml:"dtmfDetection,attr"`
	Parameters            []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RelayURL turns a public host (with or without a scheme) into the relay
// websocket URL.
func RelayURL(host string) (string, error) {
	h := strings.TrimSpace(host)
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		h = strings.TrimPrefix(h, prefix)
	}
	h = strings.TrimRight(h, "/")
	if h == "" {
		return "", errors.New("public host is empty")
	}
	return "wss://" + h + "/ws", nil
}

// ConversationRelayTwiML renders the document that connects a call to wsURL
// using the profile's greeting and voice settings.
func ConversationRelayTwiML(wsURL string, p *assistant.Profile) ([]byte, error) {
	if wsURL == "" {
		return nil, errors.New("relay url is empty")
	}
	if p == nil {
		return nil, errors.New("assistant profile is nil")
	}
	relay := conversationRelay{
		URL:                   wsURL,
		WelcomeGreeting:       p.WelcomeGreeting,
		TTSProvider:           p.Voice.TTSProvider,
		Voice:                 p.Voice.Voice,
		TranscriptionProvider: p.Voice.TranscriptionProvider,
		SpeechModel:           p.Voice.SpeechModel,
		Interruptible:         p.Voice.Interruptible,
		DTMFDetection:         p.Voice.DTMFDetection,
	}
	if p.Voice.FlowSID != "" {
		relay.Parameters = append(relay.Parameters, twimlParameter{Name: "flowSid", Value: p.Voice.FlowSID})
	}
	return marshalTwiML(twimlResponse{Connect: &twimlConnect{Relay: relay}})
}

// SayTwiML renders a document that speaks text and hangs up.
func SayTwiML(text string) []byte {
	b, err := marshalTwiML(twimlResponse{Say: text})
	if err != nil {
		return []byte(xml.Header + "<Response></Response>")
	}
	return b
}

func marshalTwiML(r twimlResponse) ([]byte, error) {
	b, err := xml.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "marshal twiml")
	}
	return append([]byte(xml.Header), b...), nil
}
