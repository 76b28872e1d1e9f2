package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"fwdctl/internal/forward"
)

var modeSetApply bool

// modeCmd represents the mode command
var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show or switch the forward mode",
	Long: `Show or switch the host-wide forward mode.

Available modes:
  none     forwarding is disabled
  haproxy  proxy-based forwarding with one haproxy daemon
  socat    one socat process per forwarded port`,
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the active forward mode",
	Args:  cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		return env.printer.Mode(env.manager.GetMode())
	}),
}

var modeSetCmd = &cobra.Command{
	Use:   "set <none|haproxy|socat>",
	Short: "Switch the forward mode",
	Long: `Switch the forward mode. Every forward of the previous mode is stopped
first; if that fails the mode is left unchanged. The new mode is persisted
in the configuration file.

With --apply, the declared forwards are started under the new mode.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"none", "haproxy", "socat"},
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		mode, err := forward.ParseMode(args[0])
		if err != nil {
			return err
		}
		if modeSetApply {
			return env.printer.Result(env.manager.SetModeAndApply(ctx, mode))
		}
		return env.printer.Result(env.manager.SetMode(ctx, mode))
	}),
}

func init() {
	rootCmd.AddCommand(modeCmd)
	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)

	modeSetCmd.Flags().BoolVar(&modeSetApply, "apply", false, "Start the declared forwards under the new mode")
}
