package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/config"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/logger"
	"github.com/tuanbt/logscope/internal/source/filelog"
	"github.com/tuanbt/logscope/internal/source/sqlitelog"
)

type emitOptions struct {
	channel  string
	level    string
	provider string
	eventID  int
	task     string
	user     string
	computer string
}

func newEmitCommand(ctx *commandContext) *cobra.Command {
	var opts emitOptions

	cmd := &cobra.Command{
		Use:   "emit <message>",
		Short: "Append a record to a channel of the file or sqlite source",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(opts.channel) == "" || opts.channel == eventlog.AllChannels {
				return fmt.Errorf("emit needs a single --channel")
			}
			level, ok := eventlog.ParseLevel(opts.level)
			if !ok {
				return fmt.Errorf("unknown level %q", opts.level)
			}
			if !emitSupported(cfg.Source.Kind) {
				return fmt.Errorf("%w (source.kind = %s)", errReadOnlySource, cfg.Source.Kind)
			}
			message := strings.Join(args, " ")
			now := time.Now()

			log := logger.NewConsoleLogger(cfg)
			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			var id int64
			switch s := src.(type) {
			case *filelog.Source:
				id, err = s.Append(cmd.Context(), opts.channel, filelog.Entry{
					Time:     now,
					Level:    eventlog.LevelNumber(level),
					Provider: opts.provider,
					EventID:  opts.eventID,
					Task:     opts.task,
					Message:  message,
					User:     opts.user,
					Computer: opts.computer,
				})
			case *sqlitelog.Source:
				id, err = s.Append(cmd.Context(), opts.channel, sqlitelog.Entry{
					Time:     now,
					Level:    eventlog.LevelNumber(level),
					Provider: opts.provider,
					EventID:  opts.eventID,
					Task:     opts.task,
					Message:  message,
					User:     opts.user,
					Computer: opts.computer,
				})
			default:
				return fmt.Errorf("source %T does not accept records", src)
			}
			if err != nil {
				return fmt.Errorf("append to %s: %w", opts.channel, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended record %d to %s\n", id, opts.channel)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.channel, "channel", "", "Channel to append to")
	cmd.Flags().StringVar(&opts.level, "level", string(eventlog.LevelInformation), "Record level")
	cmd.Flags().StringVar(&opts.provider, "provider", "logscope", "Provider (source) name")
	cmd.Flags().IntVar(&opts.eventID, "id", 0, "Event id")
	cmd.Flags().StringVar(&opts.task, "task", "", "Category (task) name")
	cmd.Flags().StringVar(&opts.user, "user", "", "User the record is attributed to")
	cmd.Flags().StringVar(&opts.computer, "computer", "", "Computer the record came from")
	return cmd
}

// emitSupported reports whether kind accepts appended records.
func emitSupported(kind string) bool {
	return kind == config.SourceFile || kind == config.SourceSQLite
}
