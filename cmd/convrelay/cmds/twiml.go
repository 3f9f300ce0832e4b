package cmds

import (
	"fmt"

	"github.com/go-go-golems/convrelay/pkg/assistant"
	"github.com/go-go-golems/convrelay/pkg/twilio"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTwiMLCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twiml",
		Short: "Print the ConversationRelay TwiML for the configured public host",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := assistant.Load(a.settings.AssistantProfile)
			if err != nil {
				return err
			}
			url, err := twilio.RelayURL(a.settings.PublicURL)
			if err != nil {
				return errors.Wrap(err, "set NGROK_URL or --ngrok-url")
			}
			doc, err := twilio.ConversationRelayTwiML(url, profile)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return err
		},
	}
	cmd.Flags().String("ngrok-url", "", "Public host advertised in the relay websocket URL")
	cmd.Flags().String("assistant-profile", "", "YAML assistant profile")
	return cmd
}
