package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
)

const (
	connectPingTimeout = 10 * time.Second
	healthPingTimeout  = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// pointWriter is the part of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// pinger is satisfied by influxdb2.Client.
type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Client records session telemetry.
//
// Points are queued on the library's batching WriteAPI, so the Record
// methods never block the session. Write failures surface later through the
// SetOnError callback and the WriteFailures counter.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client influxdb2.Client
	writer pointWriter
	now    func() time.Time

	open     atomic.Bool
	failures atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// writeOptions derives batching options from cfg, falling back to defaults
// for unset values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := fallbackBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// ping reports a failed or unhealthy ping as an error.
func ping(ctx context.Context, p pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := p.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// Connect opens a client for cfg and pings the server before returning it.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	if err := ping(ctx, raw, connectPingTimeout); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	wa := raw.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(wa)
	c.client = raw
	go c.handleWriteErrors(wa.Errors())
	return c, nil
}

func newClient(w pointWriter) *Client {
	c := &Client{writer: w, now: time.Now}
	c.open.Store(true)
	return c
}

// handleWriteErrors drains the WriteAPI error channel until it closes.
func (c *Client) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// WriteFailures returns how many batch writes the server rejected or that
// never reached it.
func (c *Client) WriteFailures() uint64 {
	return c.failures.Load()
}

// IsConnected reports whether the client is still open.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client, healthPingTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	return nil
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close writes buffered points and releases the client. Later calls are no-ops.
func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writer.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
