package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"weather-station/internal/config"
	"weather-station/internal/logging"
)

// Log Collector poslouchá na logs/# a ukládá logy ostatních služeb
// (LOG_FORWARD=true) do souborů, jeden soubor na službu.
func main() {
	cfg, err := config.LoadCollector()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Kritická chyba: neplatná konfigurace", "error", err)
		os.Exit(1)
	}

	// Vlastní logy collectoru jdou jen na stdout, jinak by se zacyklily.
	logger := logging.New(os.Stdout, cfg.LogLevel, "log-collector")
	logger.Info("Startuji Log Collector", "dir", cfg.LogDir, "mqtt", cfg.MQTT.String())

	sink, err := logging.NewFileSink(cfg.LogDir)
	if err != nil {
		logger.Error("Nelze vytvořit adresář pro logy", "error", err)
		os.Exit(1)
	}

	// Callback pro KAŽDOU přijatou logovací zprávu z jakékoliv služby.
	messageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := sink.Handle(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("Zprávu nelze uložit", "topic", msg.Topic(), "error", err)
		}
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTT.BrokerURL()).SetClientID(cfg.MQTT.ClientID)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetKeepAlive(time.Duration(cfg.MQTT.KeepAlive) * time.Second)
	opts.SetAutoReconnect(true)
	// Subscribe v OnConnect, aby se obnovil i po reconnectu.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.MQTT.Topic, cfg.MQTT.QoS, messageHandler)
		if !token.WaitTimeout(cfg.MQTT.ConnectTimeout) || token.Error() != nil {
			logger.Error("Subscribe selhal", "topic", cfg.MQTT.Topic, "error", token.Error())
			return
		}
		logger.Info("Poslouchám logy", "topic", cfg.MQTT.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Spojení s MQTT ztraceno", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(cfg.MQTT.ConnectTimeout) || token.Error() != nil {
		logger.Error("MQTT connection failed", "broker", cfg.MQTT.BrokerURL(), "error", token.Error())
		os.Exit(1)
	}

	// Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Vypínám Log Collector...")
	client.Disconnect(250)
}
