package cmds

import (
	"io/fs"

	"github.com/go-go-golems/convrelay/pkg/config"
	"github.com/go-go-golems/convrelay/pkg/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// app carries what PersistentPreRunE resolved down to the subcommands.
type app struct {
	settings *config.Settings
	static   fs.FS
}

func NewRootCommand(static fs.FS) *cobra.Command {
	a := &app{static: static}
	root := &cobra.Command{
		Use:           "convrelay",
		Short:         "Bridge Twilio ConversationRelay calls to a language model",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			s, err := config.Load(config.LoadOptions{Flags: cmd.Flags(), ConfigFile: configFile})
			if err != nil {
				return errors.Wrap(err, "load settings")
			}
			logging.Init(logging.Settings{Level: s.LogLevel, Format: s.LogFormat})
			a.settings = s
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "Log format (console or json)")

	root.AddCommand(newServeCommand(a), newTokenCommand(a), newTwiMLCommand(a))
	return root
}
