package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// clearEnv blanks every key so the host environment cannot leak in. Empty
// variables count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults {
		t.Setenv(strings.ToUpper(k), "")
	}
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	s, err := Load(LoadOptions{DotEnv: noDotEnv(t)})
	require.NoError(t, err)
	require.Equal(t, 3000, s.Port)
	require.Equal(t, ":3000", s.Addr())
	require.Equal(t, "gpt-4o", s.OpenAIModel)
	require.Equal(t, 30*time.Second, s.CompletionTimeout)
	require.Equal(t, 2, s.CompletionMaxRetries)
	require.Equal(t, 45*time.Second, s.TurnTimeout)
	require.Equal(t, int64(64<<10), s.WSReadLimit)
	require.Equal(t, 10*time.Second, s.WSWriteTimeout)
	require.Equal(t, time.Hour, s.TokenTTL)
	require.Equal(t, "console", s.LogFormat)
	require.False(t, s.EventsRedis.Enabled)
	require.Equal(t, "localhost:6379", s.EventsRedis.Addr)
	require.Equal(t, "convrelay.calls", s.EventsStream)
}

func TestPrecedence(t *testing.T) {
	clearEnv(t)
	dotenv := writeFile(t, ".env", "PORT=4000\nOPENAI_MODEL=from-dotenv\nNGROK_URL=dotenv.example.com\nTURN_TIMEOUT=5s\n")
	cfgFile := writeFile(t, "convrelay.yaml", "port: 5000\nopenai_model: from-yaml\n")
	t.Setenv("PORT", "6000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 3000, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	s, err := Load(LoadOptions{Flags: flags, ConfigFile: cfgFile, DotEnv: dotenv})
	require.NoError(t, err)
	require.Equal(t, 6000, s.Port, "env beats yaml and .env")
	require.Equal(t, "from-yaml", s.OpenAIModel, "yaml beats .env")
	require.Equal(t, "dotenv.example.com", s.PublicURL)
	require.Equal(t, 5*time.Second, s.TurnTimeout)
	require.Equal(t, "debug", s.LogLevel)

	require.NoError(t, flags.Parse([]string{"--port=7000"}))
	s, err = Load(LoadOptions{Flags: flags, ConfigFile: cfgFile, DotEnv: dotenv})
	require.NoError(t, err)
	require.Equal(t, 7000, s.Port, "flag beats env")
}

func TestTwilioFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWILIO_ACCOUNT_SID", "ACabc")
	t.Setenv("TWILIO_AUTH_TOKEN", "auth-token")
	t.Setenv("TWILIO_TWIML_APP_SID", "APabc")

	s, err := Load(LoadOptions{DotEnv: noDotEnv(t)})
	require.NoError(t, err)
	c := s.TwilioCredentials()
	require.Equal(t, "ACabc", c.AccountSID)
	require.Equal(t, "ACabc", c.APIKey)
	require.Equal(t, "auth-token", c.APISecret)
	require.Equal(t, "APabc", c.TwiMLAppSID)
	require.NoError(t, c.Validate())

	t.Setenv("TWILIO_API_KEY", "SKkey")
	t.Setenv("TWILIO_API_SECRET", "secret")
	s, err = Load(LoadOptions{DotEnv: noDotEnv(t)})
	require.NoError(t, err)
	require.Equal(t, "SKkey", s.TwilioAPIKey)
	require.Equal(t, "secret", s.TwilioAPISecret)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml"), DotEnv: noDotEnv(t)})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	s, err := Load(LoadOptions{DotEnv: noDotEnv(t)})
	require.NoError(t, err)
	require.ErrorContains(t, s.Validate(), "OPENAI_API_KEY")

	s.FakeLLM = true
	require.NoError(t, s.Validate())

	s.OpenAIAPIKey = "sk-test"
	s.FakeLLM = false
	require.NoError(t, s.Validate())

	bad := *s
	bad.Port = 70000
	require.ErrorContains(t, bad.Validate(), "invalid port")

	bad = *s
	bad.LogFormat = "xml"
	require.ErrorContains(t, bad.Validate(), "log_format")

	bad = *s
	bad.TurnTimeout = 0
	require.ErrorContains(t, bad.Validate(), "turn_timeout")

	bad = *s
	bad.EventsRedis.Enabled = true
	bad.EventsRedis.Addr = ""
	require.ErrorContains(t, bad.Validate(), "events_redis_addr")
}
