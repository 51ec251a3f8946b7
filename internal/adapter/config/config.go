// Package config provides configuration management for the PLC link service.
// It supports environment variables, config files (YAML/JSON), defaults, and
// runtime overrides applied through the UI or API.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration for the PLC link service.
type Config struct {
	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// Demo bypasses all PLC I/O and reports the connection as always up.
	Demo bool `mapstructure:"demo"`

	// BooleanChannelsPath is the path to the boolean channel map file
	BooleanChannelsPath string `mapstructure:"boolean_channels_path"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// MQTT configuration
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// PLC connection configuration
	PLC PLCConfig `mapstructure:"plc"`

	// Watchdog configuration
	Watchdog WatchdogConfig `mapstructure:"watchdog"`

	// Breaker guards the legacy fallback tier
	Breaker BreakerConfig `mapstructure:"breaker"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// MQTTConfig holds MQTT client configuration for state publishing.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	StateTopic     string        `mapstructure:"state_topic"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// PLCConfig holds the Modbus endpoint settings. These are the keys the UI
// settings dialog edits at runtime through Store.Set.
type PLCConfig struct {
	ConnectionType string        `mapstructure:"connection_type"`
	Host           string        `mapstructure:"host"`
	TCPPort        int           `mapstructure:"tcp_port"`
	SerialPort     string        `mapstructure:"serial_port"`
	Baudrate       int           `mapstructure:"baudrate"`
	Bytesize       int           `mapstructure:"bytesize"`
	Parity         string        `mapstructure:"parity"`
	Stopbits       int           `mapstructure:"stopbits"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AddressOffset  int           `mapstructure:"address_offset"`
	UnitID         int           `mapstructure:"unit_id"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// WatchdogConfig holds connection monitor timing.
type WatchdogConfig struct {
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	BaseInterval     time.Duration `mapstructure:"base_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	FailureThreshold uint          `mapstructure:"failure_threshold"`
}

// BreakerConfig holds circuit breaker settings for the legacy tier.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Store is the configuration collaborator the connection layer reloads from
// on every (re)connect. Reads return a point-in-time snapshot; Set applies a
// runtime override and re-materializes the snapshot so subsequent reconnects
// pick it up without a restart.
type Store struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cfg Config
}

// Load builds a Store from config files, environment variables and defaults.
func Load() (*Store, error) {
	v := viper.New()

	setDefaults(v)

	// Config file search paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/plc-link")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	// Environment variable binding
	v.SetEnvPrefix("PLCLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	s := &Store{v: v}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-unmarshals and validates the snapshot. Callers hold no lock or
// the write lock.
func (s *Store) reload() error {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	s.cfg = cfg
	return nil
}

// Set applies a runtime override for a single key and rebuilds the snapshot.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	return s.reload()
}

// Snapshot returns a copy of the full configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ConnectionParams materializes the PLC endpoint settings for the transport
// layer.
func (s *Store) ConnectionParams() domain.ConnectionParams {
	s.mu.RLock()
	plc := s.cfg.PLC
	s.mu.RUnlock()

	params := domain.ConnectionParams{
		Type:    domain.ConnectionTCP,
		Host:    plc.Host,
		Port:    plc.TCPPort,
		Timeout: plc.Timeout,
	}
	if strings.EqualFold(plc.ConnectionType, string(domain.ConnectionRTU)) ||
		strings.EqualFold(plc.ConnectionType, "serial") {
		params = domain.ConnectionParams{
			Type:       domain.ConnectionRTU,
			SerialPort: plc.SerialPort,
			BaudRate:   plc.Baudrate,
			DataBits:   plc.Bytesize,
			Parity:     plc.Parity,
			StopBits:   plc.Stopbits,
			Timeout:    plc.Timeout,
		}
	}
	return params
}

// AddressOffset returns the deployment base offset for relative addresses.
func (s *Store) AddressOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PLC.AddressOffset
}

// UnitID returns the configured Modbus unit identifier, clamped to the valid
// range.
func (s *Store) UnitID() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ValidateUnitID(s.cfg.PLC.UnitID)
}

// RetryInterval returns the minimum spacing between connect attempts.
func (s *Store) RetryInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PLC.RetryInterval
}

// Demo reports whether PLC I/O is bypassed entirely.
func (s *Store) Demo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Demo
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("demo", false)
	v.SetDefault("boolean_channels_path", "./config/booleans.yaml")

	// HTTP
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "plc-link")
	v.SetDefault("mqtt.state_topic", "plclink/connection/state")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)

	// PLC
	v.SetDefault("plc.connection_type", "tcp")
	v.SetDefault("plc.host", "127.0.0.1")
	v.SetDefault("plc.tcp_port", 502)
	v.SetDefault("plc.serial_port", "/dev/ttyUSB0")
	v.SetDefault("plc.baudrate", 9600)
	v.SetDefault("plc.bytesize", 8)
	v.SetDefault("plc.parity", "N")
	v.SetDefault("plc.stopbits", 1)
	v.SetDefault("plc.timeout", 3*time.Second)
	v.SetDefault("plc.address_offset", 0)
	v.SetDefault("plc.unit_id", 1)
	v.SetDefault("plc.retry_interval", 2*time.Second)

	// Watchdog
	v.SetDefault("watchdog.initial_delay", 2*time.Second)
	v.SetDefault("watchdog.base_interval", 10*time.Second)
	v.SetDefault("watchdog.max_interval", 60*time.Second)
	v.SetDefault("watchdog.failure_threshold", 5)

	// Breaker
	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", 10*time.Second)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.failure_threshold", 5)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	// PLC environment variables
	_ = v.BindEnv("plc.connection_type", "PLC_CONNECTION_TYPE")
	_ = v.BindEnv("plc.host", "PLC_HOST")
	_ = v.BindEnv("plc.tcp_port", "PLC_TCP_PORT")
	_ = v.BindEnv("plc.serial_port", "PLC_SERIAL_PORT")
	_ = v.BindEnv("plc.unit_id", "PLC_UNIT_ID")
	_ = v.BindEnv("plc.address_offset", "PLC_ADDRESS_OFFSET")

	// MQTT environment variables
	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")

	// General environment variables
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("demo", "DEMO_MODE")
	_ = v.BindEnv("boolean_channels_path", "BOOLEAN_CHANNELS_PATH")

	// HTTP
	_ = v.BindEnv("http.port", "HTTP_PORT")

	// Logging
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.PLC.ConnectionType) {
	case "tcp", "rtu", "serial":
	default:
		return fmt.Errorf("invalid plc connection type: %q", c.PLC.ConnectionType)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.PLC.TCPPort <= 0 || c.PLC.TCPPort > 65535 {
		return fmt.Errorf("invalid plc tcp port: %d", c.PLC.TCPPort)
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required when MQTT is enabled")
	}
	if c.Watchdog.BaseInterval <= 0 || c.Watchdog.MaxInterval < c.Watchdog.BaseInterval {
		return fmt.Errorf("invalid watchdog intervals: base %v max %v",
			c.Watchdog.BaseInterval, c.Watchdog.MaxInterval)
	}
	if c.Watchdog.FailureThreshold == 0 {
		return fmt.Errorf("watchdog failure threshold must be positive")
	}
	return nil
}
