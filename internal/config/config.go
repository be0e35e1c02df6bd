package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config drží konfiguraci celé služby.
// Princip 12-Factor App: hodnoty přicházejí z ENV proměnných. Volitelně lze
// podstrčit YAML soubor (CONFIG_FILE) jako základ, ENV ho pak přepisuje.
// Po načtení se konfigurace už nemění.
type Config struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Store StoreConfig `yaml:"store"`

	// ValkeyAddr: adresa Valkey/Redis pro "hot" poslední hodnotu. Prázdné = bez cache.
	ValkeyAddr string `yaml:"valkey_addr"`

	LogLevel   string `yaml:"log_level"`
	LogForward bool   `yaml:"log_forward"` // posílat logy i do MQTT (logs/<služba>)
	Timezone   string `yaml:"timezone"`
	HTTPPort   string `yaml:"http_port"`

	WriteTimeout time.Duration `yaml:"write_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StatsEvery   int           `yaml:"stats_every"`
}

// MQTTConfig popisuje připojení k brokeru.
type MQTTConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	KeepAlive int    `yaml:"keepalive"` // sekundy
	ClientID  string `yaml:"client_id"`
	QoS       byte   `yaml:"qos"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// BrokerURL vrací adresu ve formátu, který chce paho (tcp://host:port).
func (m MQTTConfig) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// String schovává heslo, konfigurace se loguje při startu.
func (m MQTTConfig) String() string {
	return fmt.Sprintf("MQTTConfig(broker=%s, topic=%s, client_id=%s, qos=%d)",
		m.BrokerURL(), m.Topic, m.ClientID, m.QoS)
}

// StoreConfig popisuje připojení k TimescaleDB.
// Database = databáze, Org = schéma, Measurement = tabulka (hypertable).
type StoreConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	Org         string `yaml:"org"`
	Measurement string `yaml:"measurement"`
	User        string `yaml:"user"`
	Token       string `yaml:"-"` // nikdy ze souboru s konfigurací
	TokenFile   string `yaml:"token_file"`
	SSLMode     string `yaml:"sslmode"`
}

// URL sestaví connection string pro pgx.
func (s StoreConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Token),
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + s.Database,
		RawQuery: url.Values{"sslmode": {s.SSLMode}}.Encode(),
	}
	return u.String()
}

func (s StoreConfig) String() string {
	return fmt.Sprintf("StoreConfig(host=%s:%d, database=%s, org=%s, measurement=%s)",
		s.Host, s.Port, s.Database, s.Org, s.Measurement)
}

// ErrNoToken: token k databázi není v ENV ani v souboru. Bez něj nemá smysl startovat.
var ErrNoToken = errors.New("store token not found (set STORE_TOKEN or STORE_TOKEN_FILE)")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load načte konfiguraci: defaulty -> YAML (pokud CONFIG_FILE) -> ENV -> token -> validace.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	token, err := resolveToken(cfg.Store.TokenFile)
	if err != nil {
		return nil, err
	}
	cfg.Store.Token = token

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Host:           "mosquitto",
			Port:           1883,
			Topic:          "pse/weather_system/sensors",
			KeepAlive:      60,
			ClientID:       "weather-ingestor-" + uuid.NewString()[:8],
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
			StopTimeout:    5 * time.Second,
		},
		Store: StoreConfig{
			Host:        "timescaledb",
			Port:        5432,
			Database:    "weather",
			Org:         "public",
			Measurement: "weather_data",
			User:        "postgres",
			TokenFile:   "./secrets/store_token",
			SSLMode:     "disable",
		},
		LogLevel:     "info",
		Timezone:     "America/Sao_Paulo",
		HTTPPort:     "8080",
		WriteTimeout: 5 * time.Second,
		PollInterval: time.Second,
		StatsEvery:   10,
	}
}

// applyEnv přepíše hodnoty těmi, které jsou nastavené v ENV.
// Chybně zadané číslo je chyba: raději nespustit, než běžet s jinou hodnotou, než si myslíme.
func (c *Config) applyEnv() error {
	var errs []error

	c.MQTT.applyEnv(&errs)

	c.Store.Host = getEnv("STORE_HOST", c.Store.Host)
	c.Store.Port = getEnvInt("STORE_PORT", c.Store.Port, &errs)
	c.Store.Database = getEnv("STORE_DATABASE", c.Store.Database)
	c.Store.Org = getEnv("STORE_ORG", c.Store.Org)
	c.Store.Measurement = getEnv("STORE_MEASUREMENT", c.Store.Measurement)
	c.Store.User = getEnv("STORE_USER", c.Store.User)
	c.Store.TokenFile = getEnv("STORE_TOKEN_FILE", c.Store.TokenFile)
	c.Store.SSLMode = getEnv("STORE_SSLMODE", c.Store.SSLMode)

	c.ValkeyAddr = getEnv("VALKEY_ADDR", c.ValkeyAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogForward = getEnvBool("LOG_FORWARD", c.LogForward, &errs)
	c.Timezone = getEnv("TZ", c.Timezone)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.WriteTimeout, &errs)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval, &errs)
	c.StatsEvery = getEnvInt("STATS_EVERY", c.StatsEvery, &errs)

	return errors.Join(errs...)
}

// applyEnv načte MQTT_* proměnné. Sdílí ho ingestor i log-collector.
func (m *MQTTConfig) applyEnv(errs *[]error) {
	m.Host = getEnv("MQTT_HOST", m.Host)
	m.Port = getEnvInt("MQTT_PORT", m.Port, errs)
	m.Topic = getEnv("MQTT_TOPIC", m.Topic)
	m.Username = getEnv("MQTT_USERNAME", m.Username)
	m.Password = getEnv("MQTT_PASSWORD", m.Password)
	m.KeepAlive = getEnvInt("MQTT_KEEPALIVE", m.KeepAlive, errs)
	m.ClientID = getEnv("MQTT_CLIENT_ID", m.ClientID)
	if qos := getEnvInt("MQTT_QOS", int(m.QoS), errs); qos >= 0 && qos <= 2 {
		m.QoS = byte(qos)
	} else {
		*errs = append(*errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos))
	}
	m.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", m.ConnectTimeout, errs)
	m.StopTimeout = getEnvDuration("STOP_TIMEOUT", m.StopTimeout, errs)
}

func (m MQTTConfig) validate() []error {
	var errs []error
	if m.Host == "" {
		errs = append(errs, errors.New("mqtt host is required"))
	}
	if m.Port <= 0 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt port out of range: %d", m.Port))
	}
	if m.Topic == "" {
		errs = append(errs, errors.New("mqtt topic is required"))
	}
	if m.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", m.QoS))
	}
	return errs
}

func (c *Config) validate() error {
	errs := c.MQTT.validate()
	if c.Store.Host == "" {
		errs = append(errs, errors.New("store host is required"))
	}
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		errs = append(errs, fmt.Errorf("store port out of range: %d", c.Store.Port))
	}
	// Org a Measurement skládáme do SQL jako identifikátory, proto přísná kontrola.
	if !identRe.MatchString(c.Store.Org) {
		errs = append(errs, fmt.Errorf("store org %q is not a valid identifier", c.Store.Org))
	}
	if !identRe.MatchString(c.Store.Measurement) {
		errs = append(errs, fmt.Errorf("store measurement %q is not a valid identifier", c.Store.Measurement))
	}
	if c.WriteTimeout <= 0 || c.PollInterval <= 0 || c.MQTT.ConnectTimeout <= 0 || c.MQTT.StopTimeout <= 0 {
		errs = append(errs, errors.New("timeouts and intervals must be positive"))
	}
	if c.StatsEvery <= 0 {
		errs = append(errs, fmt.Errorf("stats_every must be positive, got %d", c.StatsEvery))
	}
	return errors.Join(errs...)
}

// resolveToken: nejdřív ENV, potom lokální soubor s credentials.
func resolveToken(tokenFile string) (string, error) {
	if token := strings.TrimSpace(os.Getenv("STORE_TOKEN")); token != "" {
		return token, nil
	}
	if tokenFile != "" {
		raw, err := os.ReadFile(tokenFile)
		if err == nil {
			if token := strings.TrimSpace(string(raw)); token != "" {
				return token, nil
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("read token file %s: %w", tokenFile, err)
		}
	}
	return "", ErrNoToken
}

// getEnv je pomocná funkce pro DRY: pokud proměnná chybí, vrátí fallback.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool, errs *[]error) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

// getEnvDuration bere Go formát ("5s", "1m30s").
func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}
