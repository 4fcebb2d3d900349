// Shkeeper gateway - crypto payment bridge for the billing system
package main

import (
	"context"
	"os"

	"github.com/vsys-host/shkeeper-gateway/internal/config"
	"github.com/vsys-host/shkeeper-gateway/internal/logging"
	"github.com/vsys-host/shkeeper-gateway/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting shkeeper-gateway",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"gateway", cfg.GatewayName,
		"api_url", cfg.APIURL,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
