package pahoengine

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// fakeToken is a manually completed paho token. It also satisfies
// connectResult and subscribeResult.
type fakeToken struct {
	mu     sync.Mutex
	done   chan struct{}
	err    error
	code   byte
	result map[string]byte
}

func newToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken() *fakeToken {
	t := newToken()
	t.complete(nil)
	return t
}

func (t *fakeToken) complete(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeToken) ReturnCode() byte { return t.code }

func (t *fakeToken) Result() map[string]byte { return t.result }

// fakeClient records the calls the engine makes. Unimplemented methods of
// pahomqtt.Client panic through the nil embedded interface.
type fakeClient struct {
	pahomqtt.Client

	opts *pahomqtt.ClientOptions

	mu           sync.Mutex
	connectTok   *fakeToken
	open         bool
	nextTokens   []*fakeToken
	publishes    []string
	subscribes   [][]string
	unsubscribes [][]string
	disconnected chan uint
}

func newFakeClient(opts *pahomqtt.ClientOptions) *fakeClient {
	return &fakeClient{
		opts:         opts,
		connectTok:   newToken(),
		open:         true,
		disconnected: make(chan uint, 1),
	}
}

// queueToken makes the next request return tok.
func (c *fakeClient) queueToken(tok *fakeToken) {
	c.mu.Lock()
	c.nextTokens = append(c.nextTokens, tok)
	c.mu.Unlock()
}

func (c *fakeClient) token() pahomqtt.Token {
	if len(c.nextTokens) == 0 {
		return doneToken()
	}
	tok := c.nextTokens[0]
	c.nextTokens = c.nextTokens[1:]
	return tok
}

func (c *fakeClient) Connect() pahomqtt.Token { return c.connectTok }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.setOpen(false)
	select {
	case c.disconnected <- quiesce:
	default:
	}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, fmt.Sprintf("%s q%d r%t %s", topic, qos, retained, payload))
	return c.token()
}

func (c *fakeClient) Subscribe(topic string, qos byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, []string{fmt.Sprintf("%s q%d", topic, qos)})
	return c.token()
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var call []string
	for topic, qos := range filters {
		call = append(call, fmt.Sprintf("%s q%d", topic, qos))
	}
	c.subscribes = append(c.subscribes, call)
	return c.token()
}

func (c *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes = append(c.unsubscribes, topics)
	return c.token()
}

func (c *fakeClient) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.publishes)
}

// fakeMessage is an inbound paho message.
type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
	id      uint16
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return m.retain }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return m.id }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// recorder is an engine.Handler that records events as strings.
type recorder struct {
	events []string
	msgs   []*engine.Message
}

func (r *recorder) OnConnect(code byte) { r.events = append(r.events, fmt.Sprintf("connect %d", code)) }
func (r *recorder) OnDisconnect()       { r.events = append(r.events, "disconnect") }
func (r *recorder) OnPublish(id uint16) { r.events = append(r.events, fmt.Sprintf("publish %d", id)) }

func (r *recorder) OnMessage(msg *engine.Message) {
	r.msgs = append(r.msgs, msg)
	r.events = append(r.events, "message "+msg.Topic)
}

func (r *recorder) OnSubscribe(id uint16, granted []byte) {
	r.events = append(r.events, fmt.Sprintf("subscribe %d %v", id, granted))
}

func (r *recorder) OnUnsubscribe(id uint16) {
	r.events = append(r.events, fmt.Sprintf("unsubscribe %d", id))
}

func (r *recorder) take() []string {
	out := r.events
	r.events = nil
	return out
}

// harness wires an Engine to fake clients and a controllable clock.
type harness struct {
	eng     *Engine
	rec     *recorder
	clients []*fakeClient
	now     time.Time
	mu      sync.Mutex
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		rec: &recorder{},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	base := []Option{
		withClientFactory(func(o *pahomqtt.ClientOptions) pahomqtt.Client {
			c := newFakeClient(o)
			h.mu.Lock()
			h.clients = append(h.clients, c)
			h.mu.Unlock()
			return c
		}),
		withClock(func() time.Time {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.now
		}),
	}
	h.eng = New("dev1", true, append(base, opts...)...)
	h.eng.SetHandler(h.rec)
	return h
}

func (h *harness) client() *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}
	return h.clients[len(h.clients)-1]
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func defaultParams() engine.ConnectParams {
	return engine.ConnectParams{Host: "localhost", Port: 1883, KeepAlive: 60 * time.Second}
}
