/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/api"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Start the roomdb REST API server. Requests are authenticated with the
X-API-Key header when the config carries an API key.

The server shuts down gracefully on SIGINT or SIGTERM.

Examples:
  roomdb serve
  roomdb serve --config ./roomdb.yaml --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}
			cfg := sess.cfg

			if cmd.Flags().Changed("port") {
				cfg.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("bind") {
				cfg.Bind, _ = cmd.Flags().GetString("bind")
			}
			shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

			if cfg.Security.APIKey == "" {
				sess.logger.Warn("no API key configured, authentication is disabled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverConfig := api.ServerConfig{
				Addr:            cfg.Address(),
				APIKey:          cfg.Security.APIKey,
				ShutdownTimeout: shutdownTimeout,
			}
			sess.logger.Info("starting server",
				zap.String("addr", serverConfig.Addr),
				zap.String("data_dir", cfg.DataDir))

			starter := getContainer().GetServerFactory().CreateServerStarter()
			return starter.StartServer(ctx, sess.rooms, serverConfig, sess.logger.Named("api"))
		},
	}
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on, overrides the config file")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind, overrides the config file")
	serveCmd.Flags().Duration("shutdown-timeout", 15*time.Second, "Time allowed for in-flight requests on shutdown")
	return serveCmd
}
