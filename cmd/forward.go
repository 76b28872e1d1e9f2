package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// listCmd lists the forwards of the active backend
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List forwards of the active backend",
	Long: `List the forwards observed by the active backend with their runtime status.

Status is read from the system on every call: the socat process table in
socat mode, the installed haproxy configuration and its stats socket in
haproxy mode. Nothing is listed while forwarding is disabled.`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Forwards(env.manager.ListForwards(ctx))
	}),
}

// declaredCmd lists declared forwards
var declaredCmd = &cobra.Command{
	Use:   "declared",
	Short: "List forwards declared in the configuration",
	Args:  cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		rules, err := env.manager.DeclaredForwards()
		if err != nil {
			return err
		}
		return env.printer.Rules(rules)
	}),
}

// addCmd declares and starts forwards
var addCmd = &cobra.Command{
	Use:   "add <ports>",
	Short: "Declare and start forwards",
	Long: `Declare forwards for the selected tunnel and start them with the active backend.

<ports> is a comma-separated list of ports, ranges and local:remote pairs:

  fwdctl add 443
  fwdctl add 8000-8005,8080:80

Each port is processed on its own. The command fails if any port failed and
reports the outcome of every port. In haproxy mode the configuration is
validated and reloaded once for the whole batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Result(env.manager.AddForwards(ctx, args[0]))
	}),
}

// removeCmd stops and undeclares forwards
var removeCmd = &cobra.Command{
	Use:     "remove <ports>",
	Aliases: []string{"rm"},
	Short:   "Stop forwards and remove them from the configuration",
	Args:    cobra.ExactArgs(1),
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Result(env.manager.RemoveForwards(ctx, args[0]))
	}),
}

// reloadCmd validates and reloads
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Validate and activate pending changes",
	Long: `In haproxy mode, validate the staged configuration and reload haproxy.
An invalid configuration is never installed and the running one is kept.

In socat mode, start every declared forward that is not running.`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Result(env.manager.ValidateAndReload(ctx))
	}),
}

// stopAllCmd stops every forward
var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every forward of the active backend",
	Long: `Stop every forward of the active backend. Declared forwards stay in the
configuration and are started again by 'fwdctl apply'.`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Result(env.manager.StopAllForwards(ctx))
	}),
}

// applyCmd starts declared forwards
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Start every declared forward that is not running",
	Long: `Start every forward declared by any tunnel that the active backend is not
running. Run it at boot to bring forwards back after a restart.`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Result(env.manager.ApplyForwards(ctx))
	}),
}

// statusCmd summarizes the active backend
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the active backend",
	Args:  cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Summary(env.manager.Status(ctx))
	}),
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(declaredCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(stopAllCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
}
