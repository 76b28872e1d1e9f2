package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"fwdctl/internal/managers"
)

var (
	reconcileApply bool
	reconcilePrune bool
	reconcileWatch time.Duration
)

// reconcileCmd compares declared and running forwards
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare declared and running forwards",
	Long: `Compare the forwards declared by every tunnel with those the active
backend is running, and report missing, orphaned and drifted ones.

  --apply   start missing forwards and restart drifted ones
  --prune   stop running forwards that no tunnel declares
  --watch   repeat at the given interval until interrupted`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(func(ctx context.Context, env *environment, args []string) error {
		opts := managers.ReconcileOptions{Apply: reconcileApply, Prune: reconcilePrune}
		if reconcileWatch > 0 {
			return watchReconcile(ctx, env.manager.GetReconciler(), opts, reconcileWatch)
		}
		report, result := env.manager.Reconcile(ctx, opts)
		return env.printer.Report(report, result)
	}),
}

// watchReconcile runs reconcile passes until ctx is cancelled.
func watchReconcile(ctx context.Context, r managers.ForwardReconciler, opts managers.ReconcileOptions, interval time.Duration) error {
	r.SetInterval(interval)
	if err := r.StartMonitoring(ctx, opts); err != nil {
		return err
	}
	<-ctx.Done()
	r.StopMonitoring()
	return nil
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().BoolVar(&reconcileApply, "apply", false, "Start missing forwards and restart drifted ones")
	reconcileCmd.Flags().BoolVar(&reconcilePrune, "prune", false, "Stop running forwards that no tunnel declares")
	reconcileCmd.Flags().DurationVar(&reconcileWatch, "watch", 0, "Repeat every interval until interrupted (e.g. 30s)")
}
