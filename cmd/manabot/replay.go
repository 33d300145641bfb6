package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"manabot/internal/app"
	logx "manabot/pkg/logx"
)

func newReplayCommand(configPath *string) *cobra.Command {
	var logLevel string
	command := cobra.Command{
		Use:   "replay [FILE]",
		Short: "Feeds a chat log through the rules without sending anything",
		Long:  "Reads chat lines from FILE (or stdin) and prints the notifications and chat commands they would trigger.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, _, err := loadRules(*configPath)
			if err != nil {
				return err
			}
			var in io.Reader = c.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			log := logx.NewWriter(c.ErrOrStderr(), logLevel)
			stats, err := app.Replay(context.Background(), cfg, in, c.OutOrStdout(), log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.OutOrStdout(), "%d lines, %d notifications, %d commands\n",
				stats.Lines, stats.Notifications, stats.Commands)
			return err
		},
	}
	command.Flags().StringVar(&logLevel, "log-level", "warn", "Log level for rule diagnostics")
	return &command
}
