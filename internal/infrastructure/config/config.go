package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqtt-session/internal/engine"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-session/internal/session"
	"github.com/nerrad567/mqtt-session/internal/tlsconfig"
)

const (
	// clientIDPrefix prefixes generated client IDs.
	clientIDPrefix = "mqttsession-"

	// minJWTSecretLength is the shortest accepted HMAC secret for the API.
	minJWTSecretLength = 16
)

// Config is the root configuration structure.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Session       SessionConfig        `yaml:"session"`
	Broker        BrokerConfig         `yaml:"broker"`
	Auth          AuthConfig           `yaml:"auth"`
	TLS           TLSConfig            `yaml:"tls"`
	Will          WillConfig           `yaml:"will"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Reconnect     ReconnectConfig      `yaml:"reconnect"`
	Store         StoreConfig          `yaml:"store"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	API           APIConfig            `yaml:"api"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// SessionConfig contains session identity and timing. Durations are seconds
// unless noted.
type SessionConfig struct {
	ClientID     string `yaml:"client_id"`
	KeepAlive    int    `yaml:"keep_alive"`
	CleanSession bool   `yaml:"clean_session"`

	// LoopInterval is the engine drive period in milliseconds.
	LoopInterval int `yaml:"loop_interval"`

	MessageRetry int `yaml:"message_retry"`
}

// BrokerConfig contains the broker address.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig contains broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig selects ConnectTLS and carries the certificate material.
type TLSConfig struct {
	Enabled            bool `yaml:"enabled"`
	tlsconfig.Material `yaml:",inline"`
}

// WillConfig is the last will registered before connecting.
type WillConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// SubscriptionConfig is one filter subscribed after every successful connect.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// ReconnectConfig contains the supervisor's reconnection policy.
type ReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`

	// MaxAttempts of 0 means retry forever.
	MaxAttempts int `yaml:"max_attempts"`
}

// StoreConfig contains the SQLite in-flight packet store settings.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the HTTP control API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	Auth      APIAuthConfig    `yaml:"auth"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig contains bearer token settings.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the lifetime of issued tokens in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// WebSocketConfig contains event stream settings. Intervals are seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Values are applied in order: defaults, YAML, environment. Environment
// variables follow the pattern MQTTSESSION_SECTION_KEY, for example
// MQTTSESSION_BROKER_HOST or MQTTSESSION_STORE_PATH.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Session.ClientID == "" {
		cfg.Session.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// GenerateClientID returns a unique client ID of the form mqttsession-<uuid>.
func GenerateClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			KeepAlive:    int(session.DefaultKeepAlive / time.Second),
			CleanSession: true,
			LoopInterval: int(session.DefaultLoopInterval / time.Millisecond),
			MessageRetry: 20,
		},
		Broker: BrokerConfig{
			Host: session.DefaultHost,
			Port: session.DefaultPort,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
		Store: StoreConfig{
			Path:        "./data/mqttsession.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MQTTSESSION_CLIENT_ID"); v != "" {
		cfg.Session.ClientID = v
	}

	// Broker
	if v := os.Getenv("MQTTSESSION_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("MQTTSESSION_BROKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing MQTTSESSION_BROKER_PORT: %w", err)
		}
		cfg.Broker.Port = port
	}
	if v := os.Getenv("MQTTSESSION_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("MQTTSESSION_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}

	if v := os.Getenv("MQTTSESSION_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("MQTTSESSION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("MQTTSESSION_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	if v := os.Getenv("MQTTSESSION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Session validation
	if len(c.Session.ClientID) > engine.MaxClientIDLength {
		errs = append(errs, "session.client_id is too long")
	}
	if c.Session.KeepAlive < 1 || c.Session.KeepAlive > 65535 {
		errs = append(errs, "session.keep_alive must be between 1 and 65535")
	}
	if c.Session.LoopInterval < 1 {
		errs = append(errs, "session.loop_interval must be positive")
	}
	if c.Session.MessageRetry < 1 {
		errs = append(errs, "session.message_retry must be positive")
	}

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		errs = append(errs, "auth.username and auth.password must be set together")
	}

	// TLS validation
	if c.TLS.Enabled {
		if _, err := tlsconfig.ParseVersion(c.TLS.Version); err != nil {
			errs = append(errs, fmt.Sprintf("tls.version %q is not supported", c.TLS.Version))
		}
		if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
			errs = append(errs, "tls.cert_file and tls.key_file must be set together")
		}
	}

	// Will validation
	if c.Will.Enabled {
		if c.Will.Topic == "" {
			errs = append(errs, "will.topic is required when will is enabled")
		}
		if !validQoS(c.Will.QoS) {
			errs = append(errs, "will.qos must be 0, 1, or 2")
		}
	}

	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if !validQoS(sub.QoS) {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelay < 1 {
			errs = append(errs, "reconnect.initial_delay must be positive")
		}
		if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			errs = append(errs, "reconnect.max_delay must not be less than reconnect.initial_delay")
		}
		if c.Reconnect.MaxAttempts < 0 {
			errs = append(errs, "reconnect.max_attempts must not be negative")
		}
	}

	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, "store.path is required when store is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if len(c.API.Auth.JWTSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
		}
		if c.API.Auth.TokenTTL < 1 {
			errs = append(errs, "api.auth.token_ttl must be positive")
		}
		if c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validQoS(q int) bool {
	return q >= 0 && q <= engine.MaxQoS
}

// SessionConfig maps the session, broker and auth sections onto a session.Config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ClientID:     c.Session.ClientID,
		Host:         c.Broker.Host,
		Port:         c.Broker.Port,
		Username:     c.Auth.Username,
		Password:     c.Auth.Password,
		KeepAlive:    time.Duration(c.Session.KeepAlive) * time.Second,
		CleanSession: c.Session.CleanSession,
		LoopInterval: time.Duration(c.Session.LoopInterval) * time.Millisecond,
	}
}

// DatabaseConfig maps the store section onto a database.Config.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Path:        c.Store.Path,
		WALMode:     c.Store.WALMode,
		BusyTimeout: c.Store.BusyTimeout,
	}
}

// Filters returns the configured subscriptions as engine filters.
func (c *Config) Filters() []engine.Filter {
	filters := make([]engine.Filter, 0, len(c.Subscriptions))
	for _, sub := range c.Subscriptions {
		filters = append(filters, engine.Filter{Topic: sub.Topic, QoS: byte(sub.QoS)})
	}
	return filters
}

// GetInitialDelay returns the first reconnect delay as a Duration.
func (c *Config) GetInitialDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect delay ceiling as a Duration.
func (c *Config) GetMaxDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}
