package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"presence/internal/app"
	jwttoken "presence/internal/jwt_token"
)

func newTokenCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue operator tokens",
	}

	var (
		subject string
		role    string
		ttl     time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for a kiosk or administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !jwttoken.KnownRole(role) {
				return fmt.Errorf("role must be %q or %q", jwttoken.RoleKiosk, jwttoken.RoleAdmin)
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			return withApp(cmd, build, func(_ context.Context, a *app.App) error {
				if ttl <= 0 {
					ttl = a.Config.Auth.TokenTTL
				}
				token, err := a.JWT.GenerateToken(subject, role, ttl)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			})
		},
	}
	mint.Flags().StringVar(&subject, "subject", "", "kiosk, app or administrator identifier")
	mint.Flags().StringVar(&role, "role", jwttoken.RoleKiosk, "kiosk or admin")
	mint.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default AUTH_TOKEN_TTL)")
	cmd.AddCommand(mint)
	return cmd
}
