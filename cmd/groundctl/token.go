package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"groundwrite/api/internal/auth"
	"groundwrite/api/internal/config"
	"groundwrite/api/internal/entitlement"
	"groundwrite/api/internal/util"
)

type tokenOptions struct {
	Subject string
	Name    string
	Plan    string
	TTL     time.Duration
	Secret  string
}

func newTokenCommand() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.Secret
			if secret == "" {
				secret = config.Load().JWTSecret
			}
			token, err := auth.NewAuthority([]byte(secret)).Issue(auth.Claims{
				Sub:  opts.Subject,
				Name: opts.Name,
				Plan: entitlement.Plan(opts.Plan),
				JTI:  util.NewID("jti"),
				Exp:  time.Now().Add(opts.TTL).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "sub", "dev-user", "user id")
	cmd.Flags().StringVar(&opts.Name, "name", "Dev User", "display name")
	cmd.Flags().StringVar(&opts.Plan, "plan", string(entitlement.PlanFree), "plan tier (free|plus|premium)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "signing secret (defaults to GROUNDWRITE_JWT_SECRET)")
	return cmd
}
