package main

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newSlotsCommand(configPath *string) *cobra.Command {
	var count int
	command := cobra.Command{
		Use:   "slots",
		Short: "Lists upcoming Magic Pond occurrences",
		RunE: func(c *cobra.Command, args []string) error {
			_, rules, err := loadRules(*configPath)
			if err != nil {
				return err
			}
			if !rules.PredictionEnabled() {
				return errors.New("events.magic_pond is not enabled")
			}
			now := time.Now()

			table := tablewriter.NewWriter(c.OutOrStdout())
			table.SetHeader([]string{"SLOT", "STARTS", "NOTIFY AT", "IN"})
			table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
			table.SetCenterSeparator("|")
			table.SetAutoWrapText(false)
			for _, occ := range rules.Upcoming(now, count) {
				table.Append([]string{
					occ.Slot.String(),
					occ.At.Format("Mon Jan 2 15:04 MST"),
					occ.NotifyAt.Format("15:04 MST"),
					humanize.RelTime(occ.NotifyAt, now, "ago", "from now"),
				})
			}
			table.Render()
			return nil
		},
	}
	command.Flags().IntVar(&count, "count", 6, "Number of occurrences to list")
	return &command
}
