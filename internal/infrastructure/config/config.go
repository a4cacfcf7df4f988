package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// Config is the root configuration structure for the projector bridge.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Projector ProjectorConfig `yaml:"projector"`
	HomeKit   HomeKitConfig   `yaml:"homekit"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProjectorConfig describes the controlled projector and its session tuning.
type ProjectorConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	SerialNumber string `yaml:"serial_number"`

	// Transport is "tcp" (telnet control port) or "serial" (RS-232).
	Transport    string `yaml:"transport"`
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	SerialDevice string `yaml:"serial_device"`
	BaudRate     int    `yaml:"baud_rate"`
	UnitID       int    `yaml:"unit_id"`

	PollInterval        time.Duration `yaml:"poll_interval"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	CommandTimeout      time.Duration `yaml:"command_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval"`
	MaxCommandRetries   int           `yaml:"max_command_retries"`
	MaxPollMisses       int           `yaml:"max_poll_misses"`
	SuppressionDuration time.Duration `yaml:"suppression_duration"`

	// AckFailurePolicy is "success" or "error".
	AckFailurePolicy string `yaml:"ack_failure_policy"`

	// LogVerbosity is "quiet", "normal" or "debug".
	LogVerbosity string `yaml:"log_verbosity"`
}

// Transport names.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// HomeKitConfig contains HomeKit accessory settings.
type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Pin         string `yaml:"pin"`
	Port        string `yaml:"port"`
	StoragePath string `yaml:"storage_path"`
}

// DatabaseConfig is the SQLite file backing the power journal.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the power event journal.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// MQTTConfig is the broker link and the command bridge limits.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// CommandRate is the sustained number of power commands accepted per
	// second from MQTT; CommandBurst is the bucket size.
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`

	HealthInterval time.Duration `yaml:"health_interval"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Leave empty for anonymous.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig is the local HTTP surface.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig lists browser origins allowed to call the API. Empty disables
// cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

// APITimeoutConfig values are seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig tunes the live event stream. Intervals are seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables optional telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects level, format and destination.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig enables a rotating log file. Sizes are megabytes, ages days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads path over the defaults, applies GRAYLOGIC_* overrides such as
// GRAYLOGIC_PROJECTOR_ADDRESS, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig matches configs/config.yaml with no address set.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Projector: ProjectorConfig{
			ID:                  "projector-1",
			Name:                "Projector",
			Model:               "unknown",
			SerialNumber:        "unknown",
			Transport:           TransportTCP,
			Port:                projector.DefaultPort,
			BaudRate:            projector.DefaultBaudRate,
			UnitID:              projector.DefaultUnitID,
			PollInterval:        projector.DefaultPollInterval,
			ConnectionTimeout:   projector.DefaultConnectionTimeout,
			CommandTimeout:      projector.DefaultCommandTimeout,
			WriteTimeout:        projector.DefaultWriteTimeout,
			ReconnectInterval:   projector.DefaultReconnectInterval,
			MaxCommandRetries:   projector.DefaultMaxCommandRetries,
			MaxPollMisses:       projector.DefaultMaxPollMisses,
			SuppressionDuration: projector.DefaultSuppressionDuration,
			AckFailurePolicy:    string(projector.AckFailureSuccess),
			LogVerbosity:        string(projector.VerbosityNormal),
		},
		HomeKit: HomeKitConfig{
			Pin:         "00102003",
			StoragePath: "./data/homekit",
		},
		Database: DatabaseConfig{
			Path:        "./data/projector.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-projector",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			CommandRate:    1,
			CommandBurst:   3,
			HealthInterval: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{MaxAge: 300},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides reads GRAYLOGIC_<SECTION>_<KEY>. Unparseable numbers
// are ignored so the file value stands.
func applyEnvOverrides(cfg *Config) {
	// Projector
	if v := os.Getenv("GRAYLOGIC_PROJECTOR_ADDRESS"); v != "" {
		cfg.Projector.Address = v
	}
	if v := os.Getenv("GRAYLOGIC_PROJECTOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Projector.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_PROJECTOR_UNIT_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Projector.UnitID = id
		}
	}
	if v := os.Getenv("GRAYLOGIC_PROJECTOR_LOG_VERBOSITY"); v != "" {
		cfg.Projector.LogVerbosity = v
	}

	// HomeKit
	if v := os.Getenv("GRAYLOGIC_HOMEKIT_PIN"); v != "" {
		cfg.HomeKit.Pin = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.Projector.validate()...)

	if c.HomeKit.Enabled && len(c.HomeKit.Pin) != 8 {
		errs = append(errs, "homekit.pin must be 8 digits")
	}

	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.CommandRate <= 0 {
		errs = append(errs, "mqtt.command_rate must be positive")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p *ProjectorConfig) validate() []string {
	var errs []string

	if p.ID == "" {
		errs = append(errs, "projector.id is required")
	}
	switch p.Transport {
	case TransportTCP:
		if p.Address == "" {
			errs = append(errs, "projector.address is required (set GRAYLOGIC_PROJECTOR_ADDRESS environment variable)")
		}
	case TransportSerial:
		if p.SerialDevice == "" {
			errs = append(errs, "projector.serial_device is required for serial transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("projector.transport must be %q or %q", TransportTCP, TransportSerial))
	}

	if err := p.SessionConfig().Validate(); err != nil {
		errs = append(errs, "projector: "+strings.TrimPrefix(err.Error(), projector.ErrInvalidConfig.Error()+": "))
	}

	return errs
}

// SessionConfig converts the projector section into a session configuration.
func (p *ProjectorConfig) SessionConfig() projector.Config {
	return projector.Config{
		Address:             p.Address,
		Port:                p.Port,
		UnitID:              p.UnitID,
		PollInterval:        p.PollInterval,
		ConnectionTimeout:   p.ConnectionTimeout,
		CommandTimeout:      p.CommandTimeout,
		ReconnectInterval:   p.ReconnectInterval,
		MaxCommandRetries:   p.MaxCommandRetries,
		MaxPollMisses:       p.MaxPollMisses,
		SuppressionDuration: p.SuppressionDuration,
		AckFailurePolicy:    projector.AckFailurePolicy(p.AckFailurePolicy),
		Verbosity:           projector.Verbosity(p.LogVerbosity),
	}
}

// Dialer returns the transport dialer for the configured link.
func (p *ProjectorConfig) Dialer() projector.Dialer {
	if p.Transport == TransportSerial {
		return &projector.SerialDialer{Device: p.SerialDevice, BaudRate: p.BaudRate}
	}
	return &projector.TCPDialer{Address: p.Address, Port: p.Port, WriteTimeout: p.WriteTimeout}
}

// ReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
