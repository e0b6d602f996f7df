package main

import (
	"context"

	"github.com/spf13/cobra"

	"presence/internal/app"
	"presence/internal/reconcile"
	id "presence/pkg/domain"
	"presence/pkg/requestcontext"
)

func newReconcileCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find and repair drift between the index, directory and sessions",
		Long: `Runs a reconciliation routine once and prints its report as JSON.

Without --enforce nothing is changed; the report lists what would be removed.`,
	}
	cmd.AddCommand(newReconcileGhostsCmd(build), newReconcileSessionsCmd(build))
	return cmd
}

func modeOf(enforce bool) reconcile.Mode {
	if enforce {
		return reconcile.ModeEnforce
	}
	return reconcile.ModeAudit
}

func newReconcileGhostsCmd(build buildFunc) *cobra.Command {
	var enforce bool
	cmd := &cobra.Command{
		Use:   "ghosts",
		Short: "Report or delete bindings of employees who are no longer active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.FindAndPurgeGhostBindings(ctx, modeOf(enforce))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&enforce, "enforce", false, "delete ghost bindings instead of only reporting them")
	return cmd
}

func newReconcileSessionsCmd(build buildFunc) *cobra.Command {
	var (
		enforce bool
		day     string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Report or resolve duplicate open sessions of one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, build, func(ctx context.Context, a *app.App) error {
				key := id.DayKeyFor(requestcontext.Now(ctx), a.Location)
				if day != "" {
					var err error
					if key, err = id.ParseDayKey(day); err != nil {
						return err
					}
				}
				report, err := a.Engine.FindAndResolveDuplicateOpenSessions(ctx, key, modeOf(enforce))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&enforce, "enforce", false, "delete duplicate sessions instead of only reporting them")
	cmd.Flags().StringVar(&day, "day", "", "attendance day as YYYY-MM-DD (default today)")
	return cmd
}
