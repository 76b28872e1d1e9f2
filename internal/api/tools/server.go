package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"fwdctl/pkg/logging"
)

// Transport selects how the tool server talks to clients.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// ServerConfig configures the tool server.
type ServerConfig struct {
	Name      string
	Version   string
	Transport Transport
	Host      string
	Port      int
}

// NewServer creates an MCP server exposing every forward tool.
func NewServer(ft *ForwardTools, cfg ServerConfig) *server.MCPServer {
	if cfg.Name == "" {
		cfg.Name = "fwdctl"
	}
	s := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
	)
	s.AddTools(ft.ServerTools()...)
	return s
}

// Serve runs s until ctx is cancelled or the transport fails.
func Serve(ctx context.Context, s *server.MCPServer, cfg ServerConfig, stdin io.Reader, stdout io.Writer) error {
	switch cfg.Transport {
	case TransportStdio, "":
		logging.Info("ToolServer", "Serving forward tools on stdio")
		return server.NewStdioServer(s).Listen(ctx, stdin, stdout)
	case TransportSSE:
		return serveSSE(ctx, s, cfg)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", cfg.Transport)
	}
}

func serveSSE(ctx context.Context, s *server.MCPServer, cfg ServerConfig) error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	sseServer := server.NewSSEServer(
		s,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logging.Info("ToolServer", "Serving forward tools on %s/sse", baseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("ToolServer", err, "Error shutting down SSE server")
		return err
	}
	return nil
}
