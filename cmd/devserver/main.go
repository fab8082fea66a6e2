// The development server is an in-memory stand-in for the operations backend.
// It is used to run the opsdesk client locally and in integration tests.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/devserver"
	"github.com/chinmina/opsdesk/internal/observe"
	"github.com/chinmina/opsdesk/internal/resource"
	"github.com/chinmina/opsdesk/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configureLogging()

	err := launchServer(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer(ctx context.Context) error {
	cfg, err := config.LoadDevServer(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	dev := devserver.New(cfg, resource.Default())
	handler, err := dev.Routes()
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	log.Info().
		Str("login", cfg.LoginEmail).
		Dur("accessTokenTTL", cfg.AccessTokenTTL()).
		Dur("refreshTokenTTL", cfg.RefreshTokenTTL()).
		Msg("development server configured")

	return server.Serve(ctx, srv, listener, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second, hooks)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}
