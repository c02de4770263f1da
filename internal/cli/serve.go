package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/admin"
	sgmcp "github.com/ppiankov/skillgate/internal/mcp"
	"github.com/ppiankov/skillgate/internal/server"
	"github.com/ppiankov/skillgate/internal/systemd"
)

var (
	serveTransport string
	serveAddr      string
	serveNoReload  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "t", "mcp", "Transport to serve (mcp|grpc)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", server.DefaultAddr, "gRPC listen address")
	serveCmd.Flags().BoolVar(&serveNoReload, "no-reload", false, "Disable policy hot-reload")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatcher over MCP (stdio) or gRPC",
	Long: "Runs skillgate as a long-lived gateway.\n" +
		"  mcp:  MCP tool server on stdio for the LLM engine (skill_invoke, skill_undo, ...)\n" +
		"  grpc: skillgate.v1.Gateway service for the desktop UI\n" +
		"The policy file is hot-reloaded on change unless --no-reload is given.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveTransport != "mcp" && serveTransport != "grpc" {
		return fmt.Errorf("unknown transport %q (want mcp or grpc)", serveTransport)
	}

	g, err := openGateway()
	if err != nil {
		return err
	}
	defer g.Close()

	key, err := admin.LoadOrCreate(admin.DefaultPath(resolvedStateDir()))
	if err != nil {
		return err
	}
	auth := admin.NewAuthorizer(key)

	if unitPath, err := systemd.UserUnitPath(); err == nil {
		if msg := systemd.CheckIntegrity(unitPath, serviceHashPath()); msg != "" {
			g.logger.Warn("service unit integrity", zap.String("warning", msg))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !serveNoReload {
		reloader, err := server.NewReloader(g.d, g.policyPath, g.policyHash, g.logger)
		if err != nil {
			g.logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			go reloader.Run(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if serveTransport == "mcp" {
		srv, err := sgmcp.New(sgmcp.Config{
			Dispatcher: g.d,
			Authorizer: auth,
			Logger:     g.logger,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		go func() {
			<-sigCh
			g.logger.Info("shutting down MCP server")
			cancel()
		}()
		return srv.Run(ctx)
	}

	srv, err := server.New(server.Config{
		Addr:       serveAddr,
		Dispatcher: g.d,
		Authorizer: auth,
		Stream:     g.stream,
		Logger:     g.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	go func() {
		<-sigCh
		g.logger.Info("shutting down gRPC server")
		cancel()
		srv.Stop()
	}()
	return srv.Serve()
}
