package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/config"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/filter"
	"github.com/tuanbt/logscope/internal/session"
	"github.com/tuanbt/logscope/internal/source/filelog"
	"github.com/tuanbt/logscope/internal/source/journal"
	"github.com/tuanbt/logscope/internal/source/sqlitelog"
)

var errReadOnlySource = errors.New("the journal source is read-only")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		resolvePaths(cfg)
		c.config = cfg
	})
	return c.config, c.configErr
}

// resolvePaths anchors relative directories at the working directory.
func resolvePaths(cfg *config.Config) {
	pwd, err := os.Getwd()
	if err != nil {
		return
	}
	for _, p := range []*string{&cfg.Source.Directory, &cfg.Source.Database, &cfg.LogDirectory} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(pwd, *p)
		}
	}
}

// openSource builds the configured provider. The returned func releases it.
func (c *commandContext) openSource(logger *slog.Logger) (eventlog.Source, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Source.Kind {
	case config.SourceFile:
		src, err := filelog.New(cfg.Source.Directory, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case config.SourceJournal:
		src := journal.New(cfg.Source.Journalctl, logger)
		if !src.IsInstalled() {
			return nil, nil, fmt.Errorf("journalctl not found: %s", cfg.Source.Journalctl)
		}
		return src, func() {}, nil
	case config.SourceSQLite:
		src, err := sqlitelog.Open(cfg.Source.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		PageSize:               cfg.PageSize,
		LiveRecordCap:          cfg.LiveRecordCap,
		MonitorQueueSize:       cfg.MonitorQueueSize,
		SearchDebounce:         cfg.SearchDebounce(),
		CountProgressInterval:  cfg.CountProgressInterval,
		Parallelism:            cfg.ParallelChannels,
		MaxMonitorRestarts:     cfg.MaxMonitorRestarts,
		MonitorRestartCooldown: cfg.MonitorRestartCooldown(),
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// filterFlags are the record filter options shared by page and tail.
type filterFlags struct {
	levels   string
	ids      string
	source   string
	keyword  string
	user     string
	computer string
	search   string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.levels, "levels", "", "Comma-separated levels to keep (critical,error,warning,information,verbose)")
	cmd.Flags().StringVar(&f.ids, "ids", "", "Event id list, ranges and exclusions (e.g. 1-10,-5)")
	cmd.Flags().StringVar(&f.source, "source", "", "Provider substring")
	cmd.Flags().StringVar(&f.keyword, "keyword", "", "Description substring")
	cmd.Flags().StringVar(&f.user, "user", "", "User substring")
	cmd.Flags().StringVar(&f.computer, "computer", "", "Computer substring")
	cmd.Flags().StringVar(&f.search, "search", "", "Free-text search over provider, description, category and event id")
}

func (f *filterFlags) criteria() filter.Criteria {
	return filter.Criteria{
		Levels:   filter.ParseLevels(f.levels),
		IDs:      f.ids,
		Source:   f.source,
		Keyword:  f.keyword,
		User:     f.user,
		Computer: f.computer,
	}
}

func (f *filterFlags) predicate(logger *slog.Logger) filter.Predicate {
	return filter.And(filter.Build(f.criteria(), logger), filter.Search(f.search, logger))
}

// parseSince accepts an RFC 3339 time or a duration back from now.
func parseSince(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 24h or an RFC 3339 time", value)
	}
	return t, nil
}
