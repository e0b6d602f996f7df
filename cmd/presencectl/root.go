package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"presence/internal/app"
	"presence/internal/platform/config"
	"presence/internal/platform/logger"
	"presence/pkg/requestcontext"
)

// cliActor is recorded on audit events of commands run from presencectl.
const cliActor = "presencectl"

// buildFunc opens the configured backends. Tests replace it.
type buildFunc func(ctx context.Context) (*app.App, error)

func defaultBuild(ctx context.Context) (*app.App, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger.New(cfg.Log.Level, cfg.Log.Format), prometheus.NewRegistry())
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(defaultBuild)
}

func newRootCmdWith(build buildFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "presencectl",
		Short:         "Administer attendance and identity bindings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newReconcileCmd(build),
		newIdentityCmd(build),
		newTokenCmd(build),
	)
	return root
}

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, build buildFunc, fn func(ctx context.Context, a *app.App) error) error {
	ctx := requestcontext.WithActor(cmd.Context(), cliActor, "admin")
	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
