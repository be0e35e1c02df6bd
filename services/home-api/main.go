package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weather-station/internal/api"
	"weather-station/internal/config"
	"weather-station/internal/logging"
	"weather-station/internal/storage"
)

const serviceName = "home-api"

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Konfigurace
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Kritická chyba: neplatná konfigurace", "error", err)
		return 1
	}

	// 2. Logování na JSON (standard pro kontejnery)
	logger := logging.New(os.Stdout, cfg.LogLevel, serviceName)
	slog.SetDefault(logger)
	logger.Info("Startuji Home API", "port", cfg.HTTPPort, "store", cfg.Store.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Připojení k TimescaleDB
	gateway := storage.NewGateway(cfg.Store, logger)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.MQTT.ConnectTimeout)
	err = gateway.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Error("Kritická chyba: Nelze se připojit k DB", "error", err)
		return 1
	}
	defer gateway.Close()

	// 4. Valkey je jen zkratka pro poslední hodnotu, bez něj API funguje dál.
	var latest api.LatestReader
	if cfg.ValkeyAddr != "" {
		cache, err := storage.NewLatestCache(ctx, cfg.ValkeyAddr, cfg.Store.Measurement)
		if err != nil {
			logger.Warn("Valkey nedostupný, poslední hodnotu čtu z DB", "error", err)
		} else {
			defer cache.Close()
			latest = cache
		}
	}

	// 5. Router
	handler := api.NewHandler(gateway, latest, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", api.Health(gateway.IsConnected))

	// Handler obalíme CorsMiddlewarem, aby fungovalo volání z frontendu.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.CorsMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server naslouchá", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server spadl", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("Vypínám Home API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server se nevypnul čistě", "error", err)
		}
	}
	return 0
}
