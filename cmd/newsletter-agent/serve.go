package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
	srv "github.com/mohammad-safakhou/newsletter-agent/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*cfgPath)
			if addr != "" {
				cfg.General.Listen = addr
			}
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return srv.Run(ctx, cfg, logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides general.listen)")
	return serve
}
