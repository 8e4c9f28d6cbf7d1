package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// Configuration defaults applied by DefaultConfig.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 1883
	DefaultKeepAlive    = 60 * time.Second
	DefaultLoopInterval = time.Second

	// maxKeepAlive is the largest keepalive the CONNECT packet can carry.
	maxKeepAlive = 65535 * time.Second

	minPort = 1
	maxPort = 65535
)

// Config is the immutable configuration of a session.
type Config struct {
	// ClientID identifies the session to the broker. Reusing an ID may make
	// the broker evict an older session holding it.
	ClientID string

	Host string
	Port int

	// Username and Password must be both set or both empty.
	Username string
	Password string

	// KeepAlive is the maximum interval between client-to-broker packets.
	KeepAlive time.Duration

	// CleanSession asks the broker to discard prior session state for ClientID.
	CleanSession bool

	// LoopInterval is how often the RetryTimer drives the engine.
	// Zero means DefaultLoopInterval.
	LoopInterval time.Duration
}

// DefaultConfig returns a configuration for clientID with localhost:1883,
// a 60s keepalive and a clean session.
func DefaultConfig(clientID string) Config {
	return Config{
		ClientID:     clientID,
		Host:         DefaultHost,
		Port:         DefaultPort,
		KeepAlive:    DefaultKeepAlive,
		CleanSession: true,
		LoopInterval: DefaultLoopInterval,
	}
}

// Validate checks the configuration. All problems are reported together,
// wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []string

	switch {
	case c.ClientID == "":
		errs = append(errs, "client ID is required")
	case len(c.ClientID) > engine.MaxClientIDLength:
		errs = append(errs, fmt.Sprintf("client ID exceeds %d bytes", engine.MaxClientIDLength))
	}

	if c.Port < minPort || c.Port > maxPort {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, "username and password must be set together")
	}

	if c.KeepAlive <= 0 {
		errs = append(errs, "keepalive must be positive")
	} else if c.KeepAlive > maxKeepAlive {
		errs = append(errs, "keepalive must not exceed 65535s")
	}

	if c.LoopInterval < 0 {
		errs = append(errs, "loop interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) loopInterval() time.Duration {
	if c.LoopInterval == 0 {
		return DefaultLoopInterval
	}
	return c.LoopInterval
}

// connectParams converts the configuration into engine connect parameters.
func (c Config) connectParams() engine.ConnectParams {
	return engine.ConnectParams{
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.Username,
		Password:  c.Password,
		KeepAlive: c.KeepAlive,
	}
}
