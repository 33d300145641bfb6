package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"manabot/internal/app"
	"manabot/internal/bot"
	"manabot/internal/chat"
	"manabot/internal/config"
)

const defaultConfigPath = "./config.yaml"

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string
	command := cobra.Command{
		Use:           "manabot",
		Short:         "Watches game chat and posts Discord alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Configuration file (JSON or YAML)")

	command.AddCommand(
		newRunCommand(&configPath),
		newReplayCommand(&configPath),
		newSlotsCommand(&configPath),
		newCheckCommand(&configPath),
	)
	return &command
}

func newRunCommand(configPath *string) *cobra.Command {
	var stopTimeout time.Duration
	command := cobra.Command{
		Use:   "run",
		Short: "Runs the bot until interrupted",
		RunE: func(c *cobra.Command, args []string) error {
			a, err := app.NewApp(*configPath, chat.NewStdio(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.ChatClosed():
				reason = app.StopChatClosed
			case <-a.Done():
				reason = app.StopFatalError
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(ctx, reason)
			return a.Err()
		},
	}
	command.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "Upper bound for graceful shutdown")
	return &command
}

// loadRules decodes, validates and compiles the config without starting
// anything.
func loadRules(path string) (*config.Config, *bot.Rules, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	rules, err := bot.Compile(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rules, nil
}
