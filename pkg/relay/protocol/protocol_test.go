package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundVariants(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"setup","callSid":"CA1","from":"+1555","customParameters":{"flowSid":"FW1"}}`))
	require.NoError(t, err)
	setup, ok := ev.(Setup)
	require.True(t, ok)
	require.Equal(t, "CA1", setup.CallSID)
	require.Equal(t, "+1555", setup.From)
	require.Equal(t, "FW1", setup.CustomParameters["flowSid"])

	ev, err = DecodeInbound([]byte(`{"type":"prompt","voicePrompt":"find me headphones","lang":"en-US","last":true}`))
	require.NoError(t, err)
	prompt, ok := ev.(Prompt)
	require.True(t, ok)
	require.Equal(t, "find me headphones", prompt.VoicePrompt)
	require.NotNil(t, prompt.Last)
	require.True(t, *prompt.Last)

	ev, err = DecodeInbound([]byte(`{"type":"interrupt","utteranceUntilInterrupt":"Here are","durationUntilInterruptMs":420}`))
	require.NoError(t, err)
	require.Equal(t, Interrupt{UtteranceUntilInterrupt: "Here are", DurationUntilInterruptMs: 420}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"dtmf","digit":"5"}`))
	require.NoError(t, err)
	require.Equal(t, DTMF{Digit: "5"}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"error","description":"tts failed"}`))
	require.NoError(t, err)
	require.Equal(t, TypeError, ev.EventType())
}

func TestDecodeInboundUnknownType(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"mystery","x":1}`))
	require.NoError(t, err)
	u, ok := ev.(Unknown)
	require.True(t, ok)
	require.Equal(t, "mystery", u.EventType())
	require.JSONEq(t, `{"type":"mystery","x":1}`, string(u.Raw))
}

func TestDecodeInboundErrors(t *testing.T) {
	cases := map[string]string{
		"not json":      `not json`,
		"array":         `[1,2]`,
		"no type":       `{"callSid":"CA1"}`,
		"setup no sid":  `{"type":"setup"}`,
		"blank prompt":  `{"type":"prompt","voicePrompt":"   "}`,
		"prompt shape":  `{"type":"prompt","voicePrompt":42}`,
		"type not text": `{"type":7}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(frame))
			require.Error(t, err)
			var perr *ProtocolDecodeError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, "bad_frame", perr.Code)
		})
	}
}

func TestEncodeReply(t *testing.T) {
	b, err := Encode(NewReply("Here you go"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"text","token":"Here you go","last":true}`, string(b))

	b, err = Encode(TextToken{Token: "x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"text","token":"x","last":false}`, string(b))
}
