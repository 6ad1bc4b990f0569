package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/api"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/logger"
	"github.com/tuanbt/logscope/internal/query"
)

const descriptionWidth = 72

func newPageCommand(ctx *commandContext) *cobra.Command {
	var (
		channel   string
		pageIndex int
		pageSize  int
		since     string
		asJSON    bool
		filters   filterFlags
	)

	cmd := &cobra.Command{
		Use:   "page",
		Short: "Print one page of records, newest first",
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
			if pageIndex < 0 {
				return fmt.Errorf("--page must not be negative")
			}
			if pageSize <= 0 {
				pageSize = cfg.PageSize
			}

			log := logger.NewConsoleLogger(cfg)
			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			engine := query.NewEngine(src, log, cfg.ParallelChannels)
			res, err := engine.FetchPage(cmd.Context(), eventlog.PageRequest{
				Channel:   channel,
				Since:     from,
				PageIndex: pageIndex,
				PageSize:  pageSize,
			})
			if err != nil {
				return errors.New(eventlog.StatusText(channel, err))
			}

			pred := filters.predicate(log)
			visible := make([]eventlog.Record, 0, len(res.Records))
			for _, rec := range res.Records {
				if pred(rec) {
					visible = append(visible, rec)
				}
			}

			if asJSON {
				return writeJSON(cmd, api.PageResponse{
					Channel:   channel,
					Since:     from,
					PageIndex: pageIndex,
					PageSize:  pageSize,
					HasMore:   res.HasMore,
					Skipped:   res.Skipped,
					Loaded:    len(res.Records),
					Records:   visible,
				})
			}

			out := cmd.OutOrStdout()
			if len(visible) == 0 {
				if len(res.Records) == 0 {
					fmt.Fprintln(out, "No records.")
				} else {
					fmt.Fprintln(out, "No records match the current filter.")
				}
			} else {
				fmt.Fprintln(out, renderTable(recordHeaders(channel), recordRows(channel, visible), recordAligns(channel)))
			}
			fmt.Fprintf(out, "Page %d: showing %d of %d loaded", pageIndex+1, len(visible), len(res.Records))
			if res.Skipped > 0 {
				fmt.Fprintf(out, ", %d unreadable skipped", res.Skipped)
			}
			if res.HasMore {
				fmt.Fprintf(out, "; more with --page %d", pageIndex+1)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", eventlog.AllChannels, "Channel to read (\"*\" merges all)")
	cmd.Flags().IntVar(&pageIndex, "page", 0, "Zero-based page index")
	cmd.Flags().IntVar(&pageSize, "size", 0, "Records per page (default from config)")
	cmd.Flags().StringVar(&since, "since", "", "Only records newer than a duration (24h) or RFC 3339 time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	filters.register(cmd)
	return cmd
}

func recordHeaders(channel string) []string {
	headers := []string{"Time", "Level", "Source", "Event ID", "Category", "Description"}
	if channel == eventlog.AllChannels {
		headers = append([]string{"Log"}, headers...)
	}
	return headers
}

func recordAligns(channel string) []columnAlignment {
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	if channel == eventlog.AllChannels {
		aligns = append([]columnAlignment{alignLeft}, aligns...)
	}
	return aligns
}

func recordRows(channel string, recs []eventlog.Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := recordRow(rec)
		if channel == eventlog.AllChannels {
			row = append([]string{rec.Channel}, row...)
		}
		rows = append(rows, row)
	}
	return rows
}

func recordRow(rec eventlog.Record) []string {
	return []string{
		rec.Time.Local().Format(time.DateTime),
		string(rec.Level),
		rec.Provider,
		strconv.Itoa(rec.EventID),
		rec.Category,
		clip(strings.Join(strings.Fields(rec.Description), " "), descriptionWidth),
	}
}

func clip(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
