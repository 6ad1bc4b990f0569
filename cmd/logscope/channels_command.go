package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/api"
	"github.com/tuanbt/logscope/internal/logger"
)

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var estimate bool

	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the channels the configured source exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := logger.NewConsoleLogger(cfg)
			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			names, err := src.ListChannels(cmd.Context())
			if err != nil {
				return fmt.Errorf("list channels: %w", err)
			}
			if asJSON {
				if names == nil {
					names = []string{}
				}
				return writeJSON(cmd, api.ChannelsResponse{Channels: names})
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No channels found")
				return nil
			}

			headers := []string{"Channel"}
			aligns := []columnAlignment{alignLeft}
			est := src.Capabilities().Estimator
			if estimate && est != nil {
				headers = append(headers, "Records (est.)")
				aligns = append(aligns, alignRight)
			}
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				row := []string{name}
				if estimate && est != nil {
					value := "n/a"
					if n, err := est.EstimateCount(cmd.Context(), name, time.Time{}); err == nil {
						value = "~" + humanize.Comma(n)
					}
					row = append(row, value)
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "Show the source's cheap record estimate per channel")
	return cmd
}
