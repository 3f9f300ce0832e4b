package cmds

import (
	"bytes"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(fstest.MapFS{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTwiMLCommand(t *testing.T) {
	out, err := run(t, "twiml", "--ngrok-url", "https://abc.ngrok.app", "--log-level", "error")
	require.NoError(t, err)
	require.Contains(t, out, `<ConversationRelay url="wss://abc.ngrok.app/ws"`)
	require.Contains(t, out, `speechModel="nova-2"`)
}

func TestTwiMLCommandNeedsHost(t *testing.T) {
	t.Setenv("NGROK_URL", "")
	_, err := run(t, "twiml", "--log-level", "error")
	require.ErrorContains(t, err, "NGROK_URL")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "ACabc")
	t.Setenv("TWILIO_API_KEY", "SKabc")
	t.Setenv("TWILIO_API_SECRET", "secret")
	t.Setenv("TWILIO_TWIML_APP_SID", "APabc")

	out, err := run(t, "token", "--identity", "alice", "--log-level", "error")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "alice", body["identity"])
	require.NotEmpty(t, body["token"])
}

func TestServeRequiresOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("FAKE_LLM", "")
	_, err := run(t, "serve", "--log-level", "error")
	require.ErrorContains(t, err, "OPENAI_API_KEY")
}
