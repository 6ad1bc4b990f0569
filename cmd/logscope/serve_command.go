package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuanbt/logscope/internal/api"
	"github.com/tuanbt/logscope/internal/auth"
	"github.com/tuanbt/logscope/internal/logger"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string
	var noAuth bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !noAuth {
				if err := cfg.ValidateAPI(); err != nil {
					return fmt.Errorf("invalid api configuration: %w", err)
				}
			}
			if listen != "" {
				cfg.API.Listen = listen
			}

			log, closeLog, err := logger.NewSystemLogger(cfg)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer closeLog()

			src, closeSource, err := ctx.openSource(log)
			if err != nil {
				return err
			}
			defer closeSource()

			var authHandler *auth.Handler
			if noAuth {
				log.Warn("serving without authentication", "address", cfg.API.Listen)
			} else {
				authHandler = auth.NewHandler(auth.NewAuthService(&auth.Config{
					Username:             cfg.API.Username,
					PasswordHash:         cfg.API.PasswordHash,
					JWTSecret:            cfg.API.JWTSecret,
					AccessTokenDuration:  time.Duration(cfg.API.AccessTokenMinutes) * time.Minute,
					RefreshTokenDuration: time.Duration(cfg.API.RefreshTokenMinutes) * time.Minute,
				}))
			}

			srv := api.New(src, authHandler, log, api.Options{
				Listen:           cfg.API.Listen,
				PageSize:         cfg.PageSize,
				Parallelism:      cfg.ParallelChannels,
				MonitorQueueSize: cfg.MonitorQueueSize,
			})
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (overrides api.listen)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Serve without authentication (local use only)")
	return cmd
}
