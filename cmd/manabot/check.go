package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"manabot/internal/bot"
)

func newCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validates the config and compiles every rule",
		RunE: func(c *cobra.Command, args []string) error {
			_, rules, err := loadRules(*configPath)
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			for _, w := range rules.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			kinds := rules.Kinds()
			if rules.PredictionEnabled() {
				kinds = append(kinds, bot.KindMagicPond)
			}
			if len(kinds) == 0 {
				kinds = []string{"none"}
			}
			fmt.Fprintf(out, "ok: %s (tick %q)\n", strings.Join(kinds, ", "), rules.Tick())
			return nil
		},
	}
}
