// Package config resolves the server settings from flags, environment
// variables, an optional YAML file and a .env file, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/convrelay/pkg/redisstream"
	"github.com/go-go-golems/convrelay/pkg/twilio"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	KeyPort                 = "port"
	KeyNgrokURL             = "ngrok_url"
	KeyTwilioAccountSID     = "twilio_account_sid"
	KeyTwilioAPIKey         = "twilio_api_key"
	KeyTwilioAPISecret      = "twilio_api_secret"
	KeyTwilioAuthToken      = "twilio_auth_token"
	KeyTwilioTwiMLAppSID    = "twilio_twiml_app_sid"
	KeyOpenAIAPIKey         = "openai_api_key"
	KeyOpenAIModel          = "openai_model"
	KeyOpenAIBaseURL        = "openai_base_url"
	KeyCompletionTimeout    = "completion_timeout"
	KeyCompletionMaxRetries = "completion_max_retries"
	KeyTurnTimeout          = "turn_timeout"
	KeyFakeLLM              = "fake_llm"
	KeyAssistantProfile     = "assistant_profile"
	KeyLogLevel             = "log_level"
	KeyLogFormat            = "log_format"
	KeyEventsRedisEnabled   = "events_redis_enabled"
	KeyEventsRedisAddr      = "events_redis_addr"
	KeyEventsRedisStream    = "events_redis_stream"
	KeyWSReadLimit          = "ws_read_limit"
	KeyWSWriteTimeout       = "ws_write_timeout"
	KeyTokenTTL             = "token_ttl"
)

var defaults = map[string]any{
	KeyPort:                 3000,
	KeyNgrokURL:             "",
	KeyTwilioAccountSID:     "",
	KeyTwilioAPIKey:         "",
	KeyTwilioAPISecret:      "",
	KeyTwilioAuthToken:      "",
	KeyTwilioTwiMLAppSID:    "",
	KeyOpenAIAPIKey:         "",
	KeyOpenAIModel:          "gpt-4o",
	KeyOpenAIBaseURL:        "",
	KeyCompletionTimeout:    30 * time.Second,
	KeyCompletionMaxRetries: 2,
	KeyTurnTimeout:          45 * time.Second,
	KeyFakeLLM:              false,
	KeyAssistantProfile:     "",
	KeyLogLevel:             "info",
	KeyLogFormat:            "console",
	KeyEventsRedisEnabled:   false,
	KeyEventsRedisAddr:      "localhost:6379",
	KeyEventsRedisStream:    "convrelay.calls",
	KeyWSReadLimit:          64 << 10,
	KeyWSWriteTimeout:       10 * time.Second,
	KeyTokenTTL:             time.Hour,
}

type Settings struct {
	Port      int
	PublicURL string

	TwilioAccountSID  string
	TwilioAPIKey      string
	TwilioAPISecret   string
	TwilioTwiMLAppSID string

	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIBaseURL        string
	CompletionTimeout    time.Duration
	CompletionMaxRetries int
	TurnTimeout          time.Duration
	FakeLLM              bool

	AssistantProfile string

	LogLevel  string
	LogFormat string

	EventsRedis  redisstream.Settings
	EventsStream string

	WSReadLimit    int64
	WSWriteTimeout time.Duration
	TokenTTL       time.Duration
}

type LoadOptions struct {
	// Flags whose names match a key (with '-' for '_') override everything else.
	Flags *pflag.FlagSet
	// ConfigFile is an optional YAML file.
	ConfigFile string
	// DotEnv is read when present. Defaults to ".env".
	DotEnv string
}

// Load resolves the settings. A missing .env file is not an error, a missing
// config file is.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if err := applyDotEnv(v, opts.DotEnv); err != nil {
		return nil, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", opts.ConfigFile)
		}
	}

	for k := range defaults {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, errors.Wrapf(err, "bind env for %s", k)
		}
	}

	if opts.Flags != nil {
		for k := range defaults {
			f := opts.Flags.Lookup(strings.ReplaceAll(k, "_", "-"))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(k, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", f.Name)
			}
		}
	}

	return fromViper(v), nil
}

// applyDotEnv loads the .env file into the default layer, so values there
// lose against the config file and the real environment.
func applyDotEnv(v *viper.Viper, path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	for k := range defaults {
		if dv.IsSet(k) {
			v.SetDefault(k, dv.Get(k))
		}
	}
	return nil
}

func fromViper(v *viper.Viper) *Settings {
	s := &Settings{
		Port:                 v.GetInt(KeyPort),
		PublicURL:            strings.TrimSpace(v.GetString(KeyNgrokURL)),
		TwilioAccountSID:     v.GetString(KeyTwilioAccountSID),
		TwilioAPIKey:         v.GetString(KeyTwilioAPIKey),
		TwilioAPISecret:      v.GetString(KeyTwilioAPISecret),
		TwilioTwiMLAppSID:    v.GetString(KeyTwilioTwiMLAppSID),
		OpenAIAPIKey:         v.GetString(KeyOpenAIAPIKey),
		OpenAIModel:          v.GetString(KeyOpenAIModel),
		OpenAIBaseURL:        v.GetString(KeyOpenAIBaseURL),
		CompletionTimeout:    v.GetDuration(KeyCompletionTimeout),
		CompletionMaxRetries: v.GetInt(KeyCompletionMaxRetries),
		TurnTimeout:          v.GetDuration(KeyTurnTimeout),
		FakeLLM:              v.GetBool(KeyFakeLLM),
		AssistantProfile:     v.GetString(KeyAssistantProfile),
		LogLevel:             v.GetString(KeyLogLevel),
		LogFormat:            v.GetString(KeyLogFormat),
		EventsStream:         v.GetString(KeyEventsRedisStream),
		WSReadLimit:          v.GetInt64(KeyWSReadLimit),
		WSWriteTimeout:       v.GetDuration(KeyWSWriteTimeout),
		TokenTTL:             v.GetDuration(KeyTokenTTL),
	}
	// API key and secret fall back to the account SID and auth token, which
	// Twilio accepts for signing.
	if s.TwilioAPIKey == "" {
		s.TwilioAPIKey = s.TwilioAccountSID
	}
	if s.TwilioAPISecret == "" {
		s.TwilioAPISecret = v.GetString(KeyTwilioAuthToken)
	}
	s.EventsRedis = redisstream.DefaultSettings()
	s.EventsRedis.Enabled = v.GetBool(KeyEventsRedisEnabled)
	s.EventsRedis.Addr = v.GetString(KeyEventsRedisAddr)
	return s
}

// Validate reports settings the server cannot start with. Twilio credentials
// are checked by the token endpoint instead.
func (s *Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("invalid port %d", s.Port)
	}
	if !s.FakeLLM && strings.TrimSpace(s.OpenAIAPIKey) == "" {
		return errors.New("OPENAI_API_KEY is not set (use --fake-llm to run without a model)")
	}
	if s.TurnTimeout <= 0 {
		return errors.Errorf("turn_timeout must be positive, got %s", s.TurnTimeout)
	}
	if s.CompletionTimeout <= 0 {
		return errors.Errorf("completion_timeout must be positive, got %s", s.CompletionTimeout)
	}
	if s.CompletionMaxRetries < 0 {
		return errors.Errorf("completion_max_retries must not be negative, got %d", s.CompletionMaxRetries)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return errors.Errorf("unknown log_format %q", s.LogFormat)
	}
	if s.EventsRedis.Enabled && strings.TrimSpace(s.EventsRedis.Addr) == "" {
		return errors.New("events_redis_addr is empty")
	}
	return nil
}

func (s *Settings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (s *Settings) TwilioCredentials() twilio.Credentials {
	return twilio.Credentials{
		AccountSID:  s.TwilioAccountSID,
		APIKey:      s.TwilioAPIKey,
		APISecret:   s.TwilioAPISecret,
		TwiMLAppSID: s.TwilioTwiMLAppSID,
	}
}
