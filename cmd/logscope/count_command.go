package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/api"
	"github.com/tuanbt/logscope/internal/counting"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/logger"
)

var errCountUnavailable = errors.New("count unavailable")

func newCountCommand(ctx *commandContext) *cobra.Command {
	var (
		channel  string
		since    string
		estimate bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the records of a channel exactly",
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

			log := logger.NewConsoleLogger(cfg)
			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			resp := api.CountResponse{Channel: channel, Since: from}
			if estimate && channel != eventlog.AllChannels {
				if est := src.Capabilities().Estimator; est != nil {
					if n, err := est.EstimateCount(cmd.Context(), channel, from); err == nil {
						resp.Estimate = &n
					}
				}
			}

			out := cmd.OutOrStdout()
			if !asJSON && isTerminal(out) {
				resp.Count, err = countWithProgress(cmd.Context(), out, counting.NewCoordinator(src, log, cfg.CountProgressInterval), channel, from)
			} else {
				resp.Count, err = counting.Count(cmd.Context(), src, log, channel, from)
			}
			if err != nil {
				if errors.Is(err, errCountUnavailable) {
					return err
				}
				return errors.New(eventlog.StatusText(channel, err))
			}

			if asJSON {
				return writeJSON(cmd, resp)
			}
			label := channel
			if channel == eventlog.AllChannels {
				label = "All logs"
			}
			fmt.Fprintf(out, "%s: %s records", label, humanize.Comma(resp.Count))
			if resp.Estimate != nil {
				fmt.Fprintf(out, " (estimated ~%s)", humanize.Comma(*resp.Estimate))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", eventlog.AllChannels, "Channel to count (\"*\" counts all)")
	cmd.Flags().StringVar(&since, "since", "", "Only records newer than a duration (24h) or RFC 3339 time")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "Also report the source's cheap estimate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// countWithProgress runs the count as a background task and redraws the
// running total on one terminal line until it settles.
func countWithProgress(ctx context.Context, out io.Writer, coord *counting.Coordinator, channel string, since time.Time) (int64, error) {
	var (
		total int64
		final bool
	)
	task := coord.Start(channel, since, func(_ context.Context, p counting.Progress) {
		switch p.Kind {
		case counting.Estimate:
			fmt.Fprintf(out, "\rcounting... ~%s", humanize.Comma(p.Count))
		case counting.Running:
			fmt.Fprintf(out, "\rcounting... %s+   ", humanize.Comma(p.Count))
		case counting.Final:
			total, final = p.Count, true
		}
	})

	select {
	case <-task.Done():
	case <-ctx.Done():
		coord.Stop()
		fmt.Fprint(out, "\r\033[K")
		return 0, ctx.Err()
	}
	fmt.Fprint(out, "\r\033[K")
	if !final {
		return 0, errCountUnavailable
	}
	return total, nil
}
