package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/satori/internal/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the satori HTTP API server",
	Long: `Start the HTTP API server.

Routes:
  GET  /health        liveness
  GET  /v1/plugins    registered plugins
  POST /v1/discover   run discovery; body {"target": ..., "credentials": {...}}

Credentials are taken from each request, never from the server's own
environment. SSH keys must be sent inline; key files, key directories and
known_hosts overrides on the server are refused. Cloud endpoints on
loopback or private addresses are refused unless
server.allow_private_endpoints is set. Set server.api_key (or
SATORI_SERVER_API_KEY) to require a bearer token on /v1 routes.

Example:
  satori serve --addr 127.0.0.1:8080
  satori serve --config satori.yaml --tls-cert cert.pem --tls-key key.pem
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	tlsCert string
	tlsKey  string
)

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (default from server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindEnv("server.addr", "SATORI_SERVER_ADDR")
	_ = viper.BindEnv("server.api_key", "SATORI_SERVER_API_KEY")
	serveCmd.Flags().Bool("allow-private-endpoints", false, "let API callers reach cloud endpoints on private addresses")
	_ = viper.BindPFlag("server.allow_private_endpoints", serveCmd.Flags().Lookup("allow-private-endpoints"))
	_ = viper.BindEnv("server.allow_private_endpoints", "SATORI_SERVER_ALLOW_PRIVATE_ENDPOINTS")
	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to TLS certificate (optional)")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to TLS private key (optional)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if tlsCert != "" || tlsKey != "" {
		if tlsCert == "" || tlsKey == "" {
			return fmt.Errorf("both --tls-cert and --tls-key must be provided for TLS")
		}
		if _, err := os.Stat(tlsCert); err != nil {
			return fmt.Errorf("TLS cert file not found or not readable: %w", err)
		}
		if _, err := os.Stat(tlsKey); err != nil {
			return fmt.Errorf("TLS key file not found or not readable: %w", err)
		}
	}

	serverLog := log.WithComponent("api-server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s.engine, s.registry, cfg, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverLog.Infow("Starting satori API server",
		"address", addr,
		"tls", tlsCert != "",
		"auth", cfg.Server.APIKey != "",
		"allow_private_endpoints", cfg.Server.AllowPrivateEndpoints,
		"config_file", viper.ConfigFileUsed(),
	)
	if cfg.Server.APIKey == "" {
		serverLog.Warnw("API key not configured, /v1 routes are unauthenticated",
			"hint", "set SATORI_SERVER_API_KEY or server.api_key",
		)
	}

	serverErrors := make(chan error, 1)
	go func() {
		if tlsCert != "" {
			serverErrors <- server.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		serverLog.Infow("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			serverLog.Errorw("Failed to shutdown gracefully", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		serverLog.Infow("Server shutdown complete")
	}

	return nil
}
