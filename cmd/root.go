package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"fwdctl/internal/cli"
	"fwdctl/internal/color"
	"fwdctl/pkg/logging"
)

var (
	configPath   string
	tunnelName   string
	logLevel     string
	logFormat    string
	outputFormat string
	quiet        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fwdctl",
	Short: "Forward local ports into a tunnel with haproxy or socat",
	Long: `fwdctl forwards TCP ports of this host to the far end of a tunnel.

Exactly one forwarding mode is active at a time:
  none     forwarding is disabled
  haproxy  every forward is a frontend/backend pair of one haproxy daemon
  socat    every forward is its own socat process

Declared forwards live in the configuration file. Switching the mode stops
every forward of the previous mechanism before the new one is used.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. a failed forward)
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		switch logging.Format(logFormat) {
		case logging.FormatText, logging.FormatJSON:
		default:
			return fmt.Errorf("unknown log format %q (want text or json)", logFormat)
		}
		logging.Init(level, logging.Format(logFormat), cmd.ErrOrStderr())

		if _, err := cli.ParseOutputFormat(outputFormat); err != nil {
			return err
		}
		color.Initialize(lipgloss.HasDarkBackground())
		return nil
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v // Set cobra's version field as well
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Set up version template
	rootCmd.SetVersionTemplate(`{{printf "fwdctl version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $FWDCTL_CONFIG or /etc/fwdctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&tunnelName, "tunnel", "t", "", "Tunnel that add and remove act on (default: the only configured tunnel)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}
