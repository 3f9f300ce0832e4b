package cmds

import (
	"github.com/go-go-golems/convrelay/pkg/assistant"
	"github.com/go-go-golems/convrelay/pkg/callevents"
	"github.com/go-go-golems/convrelay/pkg/completion"
	"github.com/go-go-golems/convrelay/pkg/config"
	"github.com/go-go-golems/convrelay/pkg/logging"
	"github.com/go-go-golems/convrelay/pkg/relay"
	"github.com/go-go-golems/convrelay/pkg/sessions"
	"github.com/go-go-golems/convrelay/pkg/twilio"
	"github.com/go-go-golems/convrelay/pkg/webapp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the relay websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			if err := s.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			profile, err := assistant.Load(s.AssistantProfile)
			if err != nil {
				return err
			}
			gw, err := buildGateway(s)
			if err != nil {
				return err
			}

			bus, err := callevents.NewBus(ctx, callevents.BusConfig{
				Topic:  s.EventsStream,
				Redis:  s.EventsRedis,
				Logger: logging.NewWatermillLogger(log.Logger),
			})
			if err != nil {
				return errors.Wrap(err, "call event bus")
			}
			bus.AddHandler("call-events-log", callevents.LogHandler)

			store := sessions.NewStore()
			rs, err := relay.NewServer(relay.ServerConfig{
				Store:        store,
				Gateway:      gw,
				SystemPrompt: profile.SystemPrompt,
				Apology:      profile.Apology,
				Events:       bus,
				TurnTimeout:  s.TurnTimeout,
				WriteTimeout: s.WSWriteTimeout,
				ReadLimit:    s.WSReadLimit,
			})
			if err != nil {
				_ = bus.Close()
				return err
			}

			srv, err := webapp.NewServer(webapp.Config{
				Addr:  s.Addr(),
				Store: store,
				Relay: rs,
				Twilio: &twilio.Handlers{
					Credentials: s.TwilioCredentials(),
					TokenTTL:    s.TokenTTL,
					Profile:     profile,
					PublicHost:  s.PublicURL,
				},
				Static: a.static,
				Bus:    bus,
			})
			if err != nil {
				_ = bus.Close()
				return err
			}

			log.Info().
				Str("profile", profile.Name).
				Bool("fake_llm", s.FakeLLM).
				Str("model", s.OpenAIModel).
				Bool("events_redis", s.EventsRedis.Enabled).
				Msg("convrelay configured")
			return srv.Run(ctx)
		},
	}
	cmd.Flags().Int("port", 3000, "HTTP port")
	cmd.Flags().String("ngrok-url", "", "Public host advertised in the relay websocket URL")
	cmd.Flags().Bool("fake-llm", false, "Answer with a canned reply instead of calling OpenAI")
	cmd.Flags().String("openai-model", "gpt-4o", "OpenAI chat model")
	cmd.Flags().String("assistant-profile", "", "YAML assistant profile (embedded shopping assistant when empty)")
	cmd.Flags().Bool("events-redis-enabled", false, "Publish call events to Redis Streams")
	cmd.Flags().String("events-redis-addr", "localhost:6379", "Redis address for call events")
	return cmd
}

func buildGateway(s *config.Settings) (completion.Gateway, error) {
	if s.FakeLLM {
		log.Warn().Msg("fake llm enabled, replies are canned")
		return completion.NewStaticGateway(), nil
	}
	return completion.NewOpenAIGateway(completion.OpenAIConfig{
		APIKey:         s.OpenAIAPIKey,
		BaseURL:        s.OpenAIBaseURL,
		Model:          s.OpenAIModel,
		AttemptTimeout: s.CompletionTimeout,
		MaxRetries:     s.CompletionMaxRetries,
	})
}
