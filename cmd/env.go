package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fwdctl/internal/backends"
	"fwdctl/internal/cli"
	"fwdctl/internal/config"
	"fwdctl/internal/forward"
	"fwdctl/internal/managers"
	"fwdctl/internal/procscan"
	"fwdctl/internal/utils"
)

// environment is everything a forward command needs.
type environment struct {
	cfg     config.FwdctlConfig
	store   *config.FileStore
	manager *managers.Manager
	printer *cli.Printer
}

// newEnvironment loads the configuration and wires the backends, the mode
// controller and the manager.
func newEnvironment(cmd *cobra.Command) (*environment, error) {
	path := config.ResolvePath(configPath)
	store := config.NewFileStore(path)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	set, err := newBackendSet(cfg.Settings)
	if err != nil {
		return nil, err
	}

	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	ctrl := managers.NewModeController(store, set)
	return &environment{
		cfg:     cfg,
		store:   store,
		manager: managers.NewManager(ctrl, store, tunnelName),
		printer: cli.NewPrinter(cmd.OutOrStdout(), cli.PrinterOptions{Format: format, Quiet: quiet}),
	}, nil
}

// newBackendSet builds one backend per enabled mode.
func newBackendSet(s config.Settings) (backends.Set, error) {
	runner := utils.NewShellRunner(s.CommandTimeout)
	scanner, err := procscan.New(procscan.Kind(s.ProcessScanner), runner, s.SocatBinary)
	if err != nil {
		return nil, err
	}
	hc := s.HAProxyConfig()
	return backends.Set{
		forward.ProcessBased: backends.NewSocatBackend(runner, scanner, s.SocatConfig()),
		forward.ProxyBased: backends.NewHAProxyBackend(runner,
			backends.StatsSocket{Path: hc.StatsSocket, Timeout: s.CommandTimeout}, hc),
	}, nil
}

// commandContext returns the command's context, which is cancelled on SIGINT
// and SIGTERM when run from Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runWithEnv adapts a function over the environment to cobra's RunE.
func runWithEnv(fn func(ctx context.Context, env *environment, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		return fn(commandContext(cmd), env, args)
	}
}
