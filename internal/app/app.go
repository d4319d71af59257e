package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"iptracker/internal/app/bootstrap"
	"iptracker/internal/app/server"
	"iptracker/internal/config"
	"iptracker/internal/ratelimit"
)

const defaultPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultPort, "Port for the HTTP server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	logFile := configureLogging(*productionFlag)
	defer logFile.Close()

	port := resolvePort("PORT", *portFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("error during shutdown", "error", err)
		}
	}()

	handler, err := server.NewHandler(server.Dependencies{
		Store:       services.Store,
		Blocklist:   services.Blocklist,
		Interceptor: services.Interceptor,
		Limiter:     services.Limiter,
		Policy:      ratelimit.NewPolicy(),
		Scanner:     services.Scanner,
		Redis:       services.Redis,
		GeoLite:     services.GeoLite,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	services.StartRoutines(gctx, g)
	g.Go(func() error {
		err := server.OpenRoutes(gctx, port, handler)
		// Stop the background loops once the server is gone.
		stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("iptracker: %w", err)
	}
	log.Info("iptracker stopped")
	return nil
}

func resolvePort(envKey string, fallback int) int {
	if port := readPort(envKey); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
