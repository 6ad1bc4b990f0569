package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/cmd/logscope/tui"
	"github.com/tuanbt/logscope/internal/logger"
	"github.com/tuanbt/logscope/internal/session"
)

func newTUICommand(ctx *commandContext) *cobra.Command {
	var channel string
	var since string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			from, err := parseSince(since)
			if err != nil {
				return err
			}

			log, closeLog, err := logger.NewEmbeddedLogger(cfg)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer closeLog()

			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			ctrl := session.NewController(src, log, sessionOptions(cfg))
			defer ctrl.Close()

			log.Info("terminal ui started", "source", cfg.Source.Kind)
			model := tui.New(src, ctrl, tui.Options{Channel: channel, Since: from})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run terminal ui: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel to open on start (\"*\" for all logs)")
	cmd.Flags().StringVar(&since, "since", "", "Only show records newer than a duration (24h) or RFC 3339 time")
	return cmd
}
