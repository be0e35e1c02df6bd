package config

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CollectorConfig drží nastavení služby Log Collector.
// Collector do databáze nechodí, token tedy nepotřebuje.
type CollectorConfig struct {
	MQTT MQTTConfig

	// LogDir: adresář, kam se ukládají soubory s logy. V Dockeru typicky namapovaný volume.
	LogDir   string
	LogLevel string
}

// LoadCollector načte konfiguraci collectoru z ENV.
// MQTT_TOPIC má tady default logs/# (posloucháme všechno pod logs/).
func LoadCollector() (*CollectorConfig, error) {
	cfg := &CollectorConfig{
		MQTT: MQTTConfig{
			Host:           "mosquitto",
			Port:           1883,
			Topic:          "logs/#",
			KeepAlive:      60,
			ClientID:       "log-collector-" + uuid.NewString()[:8],
			QoS:            0,
			ConnectTimeout: 10 * time.Second,
			StopTimeout:    5 * time.Second,
		},
		LogDir:   "/var/log/weather-station",
		LogLevel: "info",
	}

	var errs []error
	cfg.MQTT.applyEnv(&errs)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	errs = cfg.MQTT.validate()
	if cfg.LogDir == "" {
		errs = append(errs, errors.New("log dir is required"))
	}
	if cfg.MQTT.ConnectTimeout <= 0 || cfg.MQTT.StopTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
