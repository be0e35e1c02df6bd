package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Databáze časových zón přímo v binárce (distroless/scratch image nemá /usr/share/zoneinfo).
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-station/internal/api"
	"weather-station/internal/config"
	"weather-station/internal/decoder"
	"weather-station/internal/ingest"
	"weather-station/internal/logging"
	"weather-station/internal/mqttsub"
	"weather-station/internal/storage"
)

const serviceName = "sensor-ingestor"

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Konfigurace. Bez ní nemá smysl pokračovat.
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Kritická chyba: neplatná konfigurace", "error", err)
		return 1
	}

	// 2. Logger. Problém slepice-vejce: MQTT spojení ještě neexistuje,
	// writer proto vzniká prázdný a publisher se připojí, až vznikne odběr.
	mqttWriter := logging.NewMqttLogWriter(serviceName)
	var out io.Writer = os.Stdout
	if cfg.LogForward {
		out = io.MultiWriter(os.Stdout, mqttWriter)
	}
	logger := logging.New(out, cfg.LogLevel, serviceName)
	slog.SetDefault(logger)

	logger.Info("Spouštím službu Sensor Ingestor", "mqtt", cfg.MQTT.String(), "store", cfg.Store.String())

	// 3. SIGINT (Ctrl+C) i SIGTERM (docker stop) zruší ctx, coordinator pak slušně skončí.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Komponenty (Wiring)
	metrics := ingest.NewMetrics(prometheus.DefaultRegisterer)
	dec := decoder.New(cfg.Timezone, logger)
	gateway := storage.NewGateway(cfg.Store, logger)

	var cache ingest.LatestStore
	if cfg.ValkeyAddr != "" {
		c, err := storage.NewLatestCache(ctx, cfg.ValkeyAddr, cfg.Store.Measurement)
		if err != nil {
			logger.Warn("Valkey nedostupný, poběžím bez cache poslední hodnoty", "error", err)
		} else {
			cache = c
		}
	}

	coord := ingest.New(ingest.Options{
		Storage: gateway,
		NewSubscriber: func(h mqttsub.Handler, onReject mqttsub.RejectHook, onState mqttsub.StateHook) ingest.Subscriber {
			sub := mqttsub.New(cfg.MQTT, dec, h, logger,
				mqttsub.WithRejectHook(onReject),
				mqttsub.WithStateHook(onState),
			)
			if cfg.LogForward {
				mqttWriter.Attach(sub)
			}
			return sub
		},
		Cache:        cache,
		Metrics:      metrics,
		Logger:       logger,
		WriteTimeout: cfg.WriteTimeout,
		PollInterval: cfg.PollInterval,
		StatsEvery:   cfg.StatsEvery,
	})

	// 5. Setup: nejdřív DB, pak MQTT. Chyba = konec, Docker kontejner restartuje.
	setupCtx, cancel := context.WithTimeout(ctx, cfg.MQTT.ConnectTimeout)
	err = coord.Setup(setupCtx)
	cancel()
	if err != nil {
		logger.Error("Kritická chyba při startu", "error", err)
		coord.Shutdown()
		return 1
	}

	// 6. Health + metriky (pro Docker/K8s a Prometheus)
	srv := startHTTPServer(cfg.HTTPPort, coord.Healthy, logger)

	// 7. Hlavní smyčka, blokuje do signálu.
	coord.Run(ctx)

	// 8. Graceful Shutdown: MQTT, pak DB, nakonec HTTP.
	coord.Shutdown()
	mqttWriter.Attach(nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server se nevypnul čistě", "error", err)
	}
	logger.Info("Sensor Ingestor ukončen")
	return 0
}

// startHTTPServer spustí /health a /metrics na pozadí.
func startHTTPServer(port string, healthy func() bool, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.Health(healthy))
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health server běží", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server spadl", "error", err)
		}
	}()
	return srv
}
