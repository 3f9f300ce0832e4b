package callevents

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogHandler writes each call event to the global logger.
func LogHandler(ev Event) error {
	var e *zerolog.Event
	switch ev.Type {
	case TypeTurnFailed:
		e = log.Warn()
	case TypeCallSetup, TypeCallClosed:
		e = log.Info()
	case TypeTurnCompleted, TypePromptUnbound, TypeCallInterrupted:
		e = log.Debug()
	default:
		e = log.Debug()
	}
	e = e.Str("component", "callevents").
		Str("event_type", string(ev.Type)).
		Str("conn_id", ev.ConnID)
	if ev.CallSID != "" {
		e = e.Str("call_sid", ev.CallSID)
	}
	if ev.Turn > 0 {
		e = e.Int("turn", ev.Turn)
	}
	if ev.LatencyMS > 0 {
		e = e.Int64("latency_ms", ev.LatencyMS)
	}
	if ev.PromptTokens > 0 {
		e = e.Int("prompt_tokens", ev.PromptTokens)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Msg("call event")
	return nil
}
