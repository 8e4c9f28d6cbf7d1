package pahoengine

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the TCP/TLS dial and CONNACK wait.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultMessageRetry matches mosquitto's message retry default.
	defaultMessageRetry = 20 * time.Second
)

// Option configures an Engine.
type Option func(*Engine)

// WithStore makes paho persist in-flight QoS 1/2 packets in st.
func WithStore(st pahomqtt.Store) Option {
	return func(e *Engine) {
		e.store = st
	}
}

// WithConnectTimeout overrides the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.connectTimeout = d
		}
	}
}

// WithDisconnectQuiesce sets how long, in milliseconds, Disconnect lets
// in-flight work drain.
func WithDisconnectQuiesce(ms uint) Option {
	return func(e *Engine) {
		e.quiesce = ms
	}
}

// WithLogger sets a logger for dropped tokens and retries.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// withClientFactory replaces pahomqtt.NewClient. Used by tests.
func withClientFactory(f func(*pahomqtt.ClientOptions) pahomqtt.Client) Option {
	return func(e *Engine) {
		e.newClient = f
	}
}

// withClock replaces time.Now. Used by tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// brokerURL validates host and port and returns the paho broker URL.
//
// The scheme is ssl:// when TLS material is registered, tcp:// otherwise.
func brokerURL(host string, port int, secure bool) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: host is empty", engine.ErrInvalidHost)
	}
	if strings.ContainsAny(host, " \t\r\n/?#@") {
		return "", fmt.Errorf("%w: %q", engine.ErrInvalidHost, host)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: port %d", engine.ErrInvalidHost, port)
	}

	scheme := "tcp"
	if secure {
		scheme = "ssl"
	}
	raw := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", engine.ErrInvalidHost, host)
	}
	return raw, nil
}

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on registered TLS material)
//   - Client ID and clean session mode from the engine identity
//   - Authentication credentials (if provided)
//   - Keepalive and connect timeout
//   - Will (binary payload) if one is registered
//   - No paho-level auto-reconnect; reconnecting is the session's call
//   - Ordered delivery so inbound messages queue in arrival order
//
// The caller holds e.mu.
func (e *Engine) buildClientOptions(params engine.ConnectParams, broker string, gen uint64) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)

	opts.SetClientID(e.clientID)
	opts.SetCleanSession(e.cleanSession)

	if params.Username != "" {
		opts.SetUsername(params.Username)
		opts.SetPassword(params.Password)
	}

	opts.SetKeepAlive(params.KeepAlive)
	opts.SetConnectTimeout(e.connectTimeout)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	if e.tlsConfig != nil {
		opts.SetTLSConfig(e.tlsConfig.Clone())
	}

	if e.will != nil {
		opts.SetBinaryWill(e.will.Topic, e.will.Payload, e.will.QoS, e.will.Retain)
	}

	if e.store != nil {
		opts.SetStore(&clientStore{store: e.store})
	}

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		e.enqueue(gen, messageEvent(msg))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		e.logDebug("connection lost", "client_id", e.clientID, "error", err)
		e.enqueue(gen, closeEvent())
	})

	return opts
}
