package cmds

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/convrelay/pkg/twilio"
	"github.com/spf13/cobra"
)

func newTokenCommand(a *app) *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a Twilio Voice access token for the browser client",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if identity == "" {
				identity = twilio.NewIdentity(now)
			}
			tok, err := twilio.NewAccessToken(a.settings.TwilioCredentials(), identity, a.settings.TokenTTL, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{"identity": identity, "token": tok})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Client identity (web-client-<unix ms> when empty)")
	return cmd
}
