package main

import (
	"context"

	"github.com/spf13/cobra"

	"presence/internal/app"
	id "presence/pkg/domain"
)

func newIdentityCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage biometric identity bindings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <employee-id>",
		Short: "Delete every binding of an employee and clear the directory mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			employeeID, err := id.ParseEmployeeID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				removed, err := a.Identity.Reset(ctx, employeeID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"employee_id": employeeID,
					"removed":     removed,
				})
			})
		},
	})
	return cmd
}
