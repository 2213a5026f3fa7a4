package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var subject string
	var ttl time.Duration
	var send bool
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the /agent routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := setup(*cfgPath)
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			var scopes []string
			if send {
				scopes = append(scopes, runtime.ScopeSend)
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	token.Flags().StringVar(&subject, "subject", "cli", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.Flags().BoolVar(&send, "send", false, "grant the newsletter:send scope")
	return token
}
