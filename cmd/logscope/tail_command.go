package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/logger"
	"github.com/tuanbt/logscope/internal/monitor"
)

func newTailCommand(ctx *commandContext) *cobra.Command {
	var (
		channel string
		asJSON  bool
		filters filterFlags
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow records appended to a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if channel == "" || channel == eventlog.AllChannels {
				return errors.New("tail needs a single --channel")
			}
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

			mgr := monitor.NewManager(src, log, cfg.MonitorQueueSize)
			defer mgr.Close()
			sub, err := mgr.Subscribe(cmd.Context(), channel)
			if err != nil {
				return errors.New(eventlog.StatusText(channel, err))
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			pred := filters.predicate(log)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case rec, ok := <-sub.Records():
					if !ok {
						if err := sub.Err(); err != nil {
							return errors.New(eventlog.StatusText(channel, err))
						}
						return nil
					}
					if !pred(rec) {
						continue
					}
					if asJSON {
						if err := enc.Encode(rec); err != nil {
							return err
						}
						continue
					}
					row := recordRow(rec)
					fmt.Fprintf(out, "%s  %-11s  %s  %s  %s\n", row[0], row[1], row[2], row[3], row[5])
				}
			}
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel to follow")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output newline-delimited JSON")
	filters.register(cmd)
	return cmd
}
