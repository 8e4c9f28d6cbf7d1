package pahoengine

import (
	"crypto/tls"
	"fmt"
	"slices"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Engine is an engine.Engine backed by a paho client.
//
// Thread Safety:
//   - All methods are safe for concurrent use; paho callbacks only append
//     to the event queue under mu.
type Engine struct {
	clientID     string
	cleanSession bool

	newClient      func(*pahomqtt.ClientOptions) pahomqtt.Client
	now            func() time.Time
	store          pahomqtt.Store
	connectTimeout time.Duration
	quiesce        uint
	logger         Logger

	mu      sync.Mutex
	handler engine.Handler
	client  pahomqtt.Client

	// generation increments for every client built; callbacks carrying an
	// older generation belong to a superseded connection.
	generation uint64

	connectTok pahomqtt.Token
	pending    []*pendingOp
	events     []queuedEvent

	will      *engine.Will
	tlsConfig *tls.Config
	retry     time.Duration
	ids       idAllocator
	closed    bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine for clientID. No network activity happens until Connect.
func New(clientID string, cleanSession bool, opts ...Option) *Engine {
	e := &Engine{
		clientID:       clientID,
		cleanSession:   cleanSession,
		newClient:      pahomqtt.NewClient,
		now:            time.Now,
		connectTimeout: defaultConnectTimeout,
		quiesce:        defaultDisconnectQuiesce,
		retry:          defaultMessageRetry,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Factory returns an engine.Factory producing paho engines with opts.
func Factory(opts ...Option) engine.Factory {
	return func(clientID string, cleanSession bool) (engine.Engine, error) {
		return New(clientID, cleanSession, opts...), nil
	}
}

// Connect implements engine.Engine. It builds a new paho client and starts
// its connect in the background.
func (e *Engine) Connect(params engine.ConnectParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectLocked(params)
}

// Reconnect implements engine.Engine. The current client, if any, is
// dropped without an OnDisconnect event.
func (e *Engine) Reconnect(params engine.ConnectParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.dropClientLocked()
	return e.connectLocked(params)
}

func (e *Engine) connectLocked(params engine.ConnectParams) error {
	if e.closed {
		return ErrClosed
	}

	broker, err := brokerURL(params.Host, params.Port, e.tlsConfig != nil)
	if err != nil {
		return err
	}

	if e.client != nil {
		e.dropClientLocked()
	}
	e.discardClosesLocked()

	e.generation++
	opts := e.buildClientOptions(params, broker, e.generation)
	e.client = e.newClient(opts)
	e.connectTok = e.client.Connect()
	return nil
}

// dropClientLocked disconnects the current client in the background and
// forgets it. Events it still produces are discarded by generation.
func (e *Engine) dropClientLocked() {
	client := e.client
	e.client = nil
	e.connectTok = nil
	e.generation++
	if client == nil {
		return
	}
	quiesce := e.quiesce
	go client.Disconnect(quiesce)
}

// discardClosesLocked removes undelivered OnDisconnect events. They belong
// to a connection that a new attempt supersedes.
func (e *Engine) discardClosesLocked() {
	e.events = slices.DeleteFunc(e.events, func(ev queuedEvent) bool { return ev.close })
}

// Disconnect implements engine.Engine. The close itself runs in the
// background; OnDisconnect is queued immediately.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.dropClientLocked()
	e.events = append(e.events, closeEvent())
	return nil
}

// Publish implements engine.Engine.
func (e *Engine) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := e.activeClientLocked()
	if err != nil {
		return 0, err
	}

	id := e.ids.next()
	tok := client.Publish(topic, qos, retain, payload)
	e.pending = append(e.pending, &pendingOp{
		kind:    opPublish,
		id:      id,
		token:   tok,
		topic:   topic,
		payload: payload,
		qos:     qos,
		retain:  retain,
		sentAt:  e.now(),
	})
	return id, nil
}

// Subscribe implements engine.Engine. Messages for the filters are routed
// through the default publish handler into the event queue.
func (e *Engine) Subscribe(filters ...engine.Filter) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := e.activeClientLocked()
	if err != nil {
		return 0, err
	}

	var tok pahomqtt.Token
	if len(filters) == 1 {
		tok = client.Subscribe(filters[0].Topic, filters[0].QoS, nil)
	} else {
		m := make(map[string]byte, len(filters))
		for _, f := range filters {
			m[f.Topic] = f.QoS
		}
		tok = client.SubscribeMultiple(m, nil)
	}

	id := e.ids.next()
	e.pending = append(e.pending, &pendingOp{
		kind:    opSubscribe,
		id:      id,
		token:   tok,
		filters: append([]engine.Filter(nil), filters...),
		sentAt:  e.now(),
	})
	return id, nil
}

// Unsubscribe implements engine.Engine.
func (e *Engine) Unsubscribe(topics ...string) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := e.activeClientLocked()
	if err != nil {
		return 0, err
	}

	id := e.ids.next()
	tok := client.Unsubscribe(topics...)
	e.pending = append(e.pending, &pendingOp{
		kind:   opUnsubscribe,
		id:     id,
		token:  tok,
		sentAt: e.now(),
	})
	return id, nil
}

func (e *Engine) activeClientLocked() (pahomqtt.Client, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.client == nil {
		return nil, ErrNotConnected
	}
	return e.client, nil
}

// SetWill implements engine.Engine.
func (e *Engine) SetWill(w engine.Will) {
	w.Payload = append([]byte(nil), w.Payload...)
	e.mu.Lock()
	e.will = &w
	e.mu.Unlock()
}

// ClearWill implements engine.Engine.
func (e *Engine) ClearWill() {
	e.mu.Lock()
	e.will = nil
	e.mu.Unlock()
}

// SetTLS implements engine.Engine.
func (e *Engine) SetTLS(cfg *tls.Config) {
	e.mu.Lock()
	e.tlsConfig = cfg
	e.mu.Unlock()
}

// SetMessageRetry implements engine.Engine.
func (e *Engine) SetMessageRetry(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.retry = d
	e.mu.Unlock()
}

// SetHandler implements engine.Engine.
func (e *Engine) SetHandler(h engine.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Close implements engine.Engine. A still-open client is disconnected
// synchronously, waiting at most the quiesce period, then the store set
// with WithStore is closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	client := e.client
	e.client = nil
	e.connectTok = nil
	e.pending = nil
	e.events = nil
	e.generation++
	quiesce := e.quiesce
	e.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesce)
	}
	if e.store != nil {
		e.store.Close()
	}
	return nil
}

// IsConnected reports whether the underlying paho client has an open connection.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil && e.client.IsConnectionOpen()
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

// idAllocator hands out message IDs 1..65535, wrapping and skipping 0.
type idAllocator struct {
	last uint16
}

func (a *idAllocator) next() uint16 {
	a.last++
	if a.last == 0 {
		a.last = 1
	}
	return a.last
}

func (op *pendingOp) String() string {
	return fmt.Sprintf("%s#%d", op.kind, op.id)
}
