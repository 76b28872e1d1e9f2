package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"fwdctl/internal/api/tools"
	"fwdctl/internal/managers"
	"fwdctl/pkg/logging"
)

var (
	serveTransport string
	serveHost      string
	servePort      int
	serveReconcile bool
)

// serveCmd exposes the forward operations as MCP tools.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve forward operations as MCP tools",
	Long: `Starts an MCP server that exposes every fwdctl operation as a tool, so
AI assistants and other MCP clients can list, add and remove forwards and
switch the forward mode.

The server speaks MCP on stdio by default. Use --transport sse to listen on
HTTP instead.

With --reconcile, declared forwards are checked periodically and missing
ones are started while the server runs.`,
	Args: cobra.NoArgs,
	RunE: runWithEnv(runServe),
}

// runServe is the main entry point for the serve command
func runServe(ctx context.Context, env *environment, args []string) error {
	cfg := tools.ServerConfig{
		Name:      "fwdctl",
		Version:   rootCmd.Version,
		Transport: tools.Transport(serveTransport),
		Host:      serveHost,
		Port:      servePort,
	}
	s := tools.NewServer(tools.NewForwardTools(env.manager), cfg)

	if serveReconcile {
		r := env.manager.GetReconciler()
		if err := r.StartMonitoring(ctx, managers.ReconcileOptions{Apply: true}); err != nil {
			return err
		}
		defer r.StopMonitoring()
	}

	logging.Info("Serve", "forward mode is %s", env.manager.GetMode())
	return tools.Serve(ctx, s, cfg, os.Stdin, os.Stdout)
}

// init registers the serve command and its flags with the root command.
// This is called automatically when the package is imported.
func init() {
	rootCmd.AddCommand(serveCmd)

	// Register command flags
	serveCmd.Flags().StringVar(&serveTransport, "transport", string(tools.TransportStdio), "Transport (stdio, sse)")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Listen host for the sse transport")
	serveCmd.Flags().IntVar(&servePort, "port", 8090, "Listen port for the sse transport")
	serveCmd.Flags().BoolVar(&serveReconcile, "reconcile", false, "Start missing declared forwards periodically while serving")
}
