// Bobby's Table - voice receptionist backend for reservations, pre-orders
// and phone payments
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/bobbys-table/internal/config"
	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/receptionist"
	"github.com/teslashibe/bobbys-table/pkg/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config.LoadDotenv()
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	app, err := receptionist.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Seed {
		if _, err := app.SeedMenu(ctx); err != nil {
			log.Error("menu seed failed", "error", err)
			os.Exit(1)
		}
	}
	app.Start(ctx)

	srv := server.New(app)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() receptionist.Config {
	cfg := receptionist.DefaultConfig()

	port := flag.String("port", "", "Listen port (overrides PORT env var)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	seed := flag.Bool("seed", false, "Load the built-in menu at startup")
	flag.Parse()

	cfg.Debug, cfg.Seed = *debug, *seed
	cfg.LoadEnvConfig()
	if *port != "" {
		cfg.Port = *port
	}
	return cfg
}
