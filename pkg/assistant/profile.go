// Package assistant holds the persona a call is seeded with: the system prompt,
// the spoken greeting and the ConversationRelay voice settings.
package assistant

import (
	_ "embed"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

const defaultApology = "Sorry, I'm having trouble answering right now. Could you say that again?"

type Voice struct {
	TTSProvider           string `yaml:"tts_provider" json:"tts_provider"`
	Voice                 string `yaml:"voice" json:"voice"`
	TranscriptionProvider string `yaml:"transcription_provider" json:"transcription_provider"`
	SpeechModel           string `yaml:"speech_model" json:"speech_model"`
	Interruptible         string `yaml:"interruptible" json:"interruptible"`
	DTMFDetection         bool   `yaml:"dtmf_detection" json:"dtmf_detection"`
	FlowSID               string `yaml:"flow_sid" json:"flow_sid,omitempty"`
}

type Profile struct {
	Name            string `yaml:"name" json:"name"`
	SystemPrompt    string `yaml:"system_prompt" json:"system_prompt"`
	WelcomeGreeting string `yaml:"welcome_greeting" json:"welcome_greeting"`
	Apology         string `yaml:"apology" json:"apology"`
	Voice           Voice  `yaml:"voice" json:"voice"`
}

// Default returns the embedded shopping assistant profile.
func Default() *Profile {
	p, err := Parse(defaultProfileYAML)
	if err != nil {
		panic(errors.Wrap(err, "embedded assistant profile"))
	}
	return p
}

// Load reads a profile from path, or returns Default when path is empty.
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read assistant profile %s", path)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "assistant profile %s", path)
	}
	return p, nil
}

// Parse decodes a YAML profile. Fields left out of the document keep the
// embedded defaults, except the system prompt which must be present.
func Parse(b []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "decode profile yaml")
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if p.SystemPrompt == "" {
		return nil, errors.New("profile has no system_prompt")
	}
	if p.Apology == "" {
		p.Apology = defaultApology
	}
	p.Voice = p.Voice.withDefaults()
	return &p, nil
}

func (v Voice) withDefaults() Voice {
	if v.TTSProvider == "" {
		v.TTSProvider = "ElevenLabs"
	}
	if v.Voice == "" {
		v.Voice = "21m00Tcm4TlvDq8ikWAM"
	}
	if v.TranscriptionProvider == "" {
		v.TranscriptionProvider = "deepgram"
	}
	if v.SpeechModel == "" {
		v.SpeechModel = "nova-2"
	}
	if v.Interruptible == "" {
		v.Interruptible = "speech"
	}
	return v
}
