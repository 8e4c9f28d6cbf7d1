package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-session/internal/auth"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/session"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSession records the requests the API makes.
type fakeSession struct {
	mu         sync.Mutex
	state      session.State
	err        error
	nextID     uint16
	published  []publishCall
	subscribed [][]session.Filter
	unsubbed   []string
}

type publishCall struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

func (f *fakeSession) ClientID() string { return "api-test" }

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.published = append(f.published, publishCall{topic, payload, qos, retain})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSession) SubscribeMultiple(filters ...session.Filter) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.subscribed = append(f.subscribed, filters)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSession) Unsubscribe(topic string) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.unsubbed = append(f.unsubbed, topic)
	f.nextID++
	return f.nextID, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		Timeouts: config.APITimeoutConfig{
			Read:  5,
			Write: 5,
			Idle:  5,
		},
		Auth: config.APIAuthConfig{
			JWTSecret: testSecret,
			TokenTTL:  15,
		},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

// testServer creates a Server around a fake session.
func testServer(t *testing.T, checks map[string]HealthCheck) (*Server, *fakeSession) {
	t.Helper()

	sess := &fakeSession{state: session.StateConnected}
	srv, err := New(Deps{
		Config:  testAPIConfig(),
		Logger:  testLogger(),
		Session: sess,
		Checks:  checks,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, sess
}

func testToken(t *testing.T, scope auth.Scope) string {
	t.Helper()
	tok, err := auth.IssueToken("tester", scope, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

// do sends a request through the router with an optional bearer token.
func do(t *testing.T, srv *Server, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	cfg := testAPIConfig()
	noSecret := testAPIConfig()
	noSecret.Auth.JWTSecret = ""

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Config: cfg, Session: &fakeSession{}}},
		{"no session", Deps{Config: cfg, Logger: testLogger()}},
		{"no secret", Deps{Config: noSecret, Logger: testLogger(), Session: &fakeSession{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestNew_SharedHub(t *testing.T) {
	hub := NewHub(testAPIConfig().WebSocket, testLogger())
	srv, err := New(Deps{
		Config:  testAPIConfig(),
		Logger:  testLogger(),
		Session: &fakeSession{},
		Hub:     hub,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.Hub() != hub {
		t.Error("Hub() did not return the shared hub")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth_OK(t *testing.T) {
	srv, _ := testServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})

	w := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["session"] != "connected" {
		t.Errorf("session = %v, want connected", body["session"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if _, ok := body["engine"]; ok {
		t.Errorf("engine = %v, want omitted when unset", body["engine"])
	}
}

func TestHealth_EngineVersion(t *testing.T) {
	srv, err := New(Deps{
		Config:        testAPIConfig(),
		Logger:        testLogger(),
		Session:       &fakeSession{state: session.StateConnected},
		EngineVersion: "paho.mqtt.golang v1.5.1",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	body := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/health", "", ""))
	if body["engine"] != "paho.mqtt.golang v1.5.1" {
		t.Errorf("engine = %v, want the library version", body["engine"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"influxdb": func(context.Context) error { return errors.New("unreachable") },
	})

	w := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["influxdb"] != "unreachable" {
		t.Errorf("checks[influxdb] = %q", body.Checks["influxdb"])
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("checks[database] = %q", body.Checks["database"])
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-id" {
		t.Errorf("X-Request-ID = %q, want caller-id", got)
	}
}

func TestAccessMiddleware_Panic(t *testing.T) {
	srv, _ := testServer(t, nil)

	h := srv.accessMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode[Error](t, rec); got.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", got.Code, ErrCodeInternal)
	}
}

func TestAccessMiddleware_PanicAfterWrite(t *testing.T) {
	srv, _ := testServer(t, nil)

	h := srv.accessMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want the already written 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	srv, _ := testServer(t, nil)
	otherSecret, err := auth.IssueToken("tester", auth.ScopeControl, "another-secret-of-enough-length", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/session", "", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/session", "", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", http.MethodGet, "/api/v1/session", "", otherSecret, http.StatusUnauthorized},
		{"read on read route", http.MethodGet, "/api/v1/session", "", testToken(t, auth.ScopeRead), http.StatusOK},
		{"read on control route", http.MethodPost, "/api/v1/session/publish", `{"topic":"a"}`, testToken(t, auth.ScopeRead), http.StatusForbidden},
		{"control on read route", http.MethodGet, "/api/v1/session", "", testToken(t, auth.ScopeControl), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.target, tt.body, tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_QueryToken(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/session?token="+testToken(t, auth.ScopeRead), "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuth_ForbiddenBody(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := do(t, srv, http.MethodDelete, "/api/v1/session/subscriptions?topic=a", "", testToken(t, auth.ScopeRead))
	body := decode[Error](t, w)
	if body.Code != ErrCodeForbidden {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeForbidden)
	}
	if !strings.Contains(body.Message, "control") {
		t.Errorf("message = %q, want required scope named", body.Message)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Session ───────────────────────────────────────────────────────

func TestGetSession(t *testing.T) {
	srv, sess := testServer(t, nil)
	sess.state = session.StateConnecting

	w := do(t, srv, http.MethodGet, "/api/v1/session", "", testToken(t, auth.ScopeRead))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decode[SessionResponse](t, w)
	want := SessionResponse{ClientID: "api-test", State: "connecting", Clients: 0}
	if got != want {
		t.Errorf("GET /session = %+v, want %+v", got, want)
	}
}

func TestPublish(t *testing.T) {
	srv, sess := testServer(t, nil)
	token := testToken(t, auth.ScopeControl)

	w := do(t, srv, http.MethodPost, "/api/v1/session/publish",
		`{"topic":"a/b","payload":"hello","qos":1,"retain":true}`, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	if got := decode[RequestResponse](t, w); got.MessageID != 1 {
		t.Errorf("message_id = %d, want 1", got.MessageID)
	}

	if len(sess.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(sess.published))
	}
	p := sess.published[0]
	if p.topic != "a/b" || string(p.payload) != "hello" || p.qos != 1 || !p.retain {
		t.Errorf("publish = %+v", p)
	}
}

func TestPublish_Base64(t *testing.T) {
	srv, sess := testServer(t, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/session/publish",
		`{"topic":"bin","payload":"AAH/","encoding":"base64"}`, testToken(t, auth.ScopeControl))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if got := sess.published[0].payload; string(got) != "\x00\x01\xff" {
		t.Errorf("payload = %v, want [0 1 255]", got)
	}
}

func TestPublish_BadRequests(t *testing.T) {
	srv, _ := testServer(t, nil)
	token := testToken(t, auth.ScopeControl)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"bad base64", `{"topic":"a","payload":"%%%","encoding":"base64"}`},
		{"unknown encoding", `{"topic":"a","payload":"x","encoding":"hex"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/v1/session/publish", tt.body, token)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSessionErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"invalid argument", fmt.Errorf("%w: qos 3", session.ErrInvalidArgument), http.StatusBadRequest, ErrCodeBadRequest},
		{"not connected", session.ErrNotConnected, http.StatusConflict, ErrCodeNotConnected},
		{"closed", session.ErrClosed, http.StatusConflict, ErrCodeNotConnected},
		{"engine failure", fmt.Errorf("%w: broken pipe", session.ErrPublishFailed), http.StatusBadGateway, ErrCodeEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess := testServer(t, nil)
			sess.err = tt.err

			w := do(t, srv, http.MethodPost, "/api/v1/session/publish",
				`{"topic":"a","payload":"x"}`, testToken(t, auth.ScopeControl))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if got := decode[Error](t, w); got.Code != tt.code {
				t.Errorf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	srv, sess := testServer(t, nil)
	token := testToken(t, auth.ScopeControl)

	w := do(t, srv, http.MethodPost, "/api/v1/session/subscriptions",
		`{"filters":[{"topic":"a/#","qos":1},{"topic":"b/+","qos":2}]}`, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	want := []session.Filter{{Topic: "a/#", QoS: 1}, {Topic: "b/+", QoS: 2}}
	if len(sess.subscribed) != 1 || len(sess.subscribed[0]) != 2 {
		t.Fatalf("subscribed = %+v", sess.subscribed)
	}
	for i, f := range want {
		if sess.subscribed[0][i] != f {
			t.Errorf("filter %d = %+v, want %+v", i, sess.subscribed[0][i], f)
		}
	}

	w = do(t, srv, http.MethodPost, "/api/v1/session/subscriptions", `{"filters":[]}`, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty filters: status = %d, want 400", w.Code)
	}
}

func TestUnsubscribe(t *testing.T) {
	srv, sess := testServer(t, nil)
	token := testToken(t, auth.ScopeControl)

	w := do(t, srv, http.MethodDelete, "/api/v1/session/subscriptions?topic=a%2F%23", "", token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(sess.unsubbed) != 1 || sess.unsubbed[0] != "a/#" {
		t.Errorf("unsubscribed = %v, want [a/#]", sess.unsubbed)
	}

	w = do(t, srv, http.MethodDelete, "/api/v1/session/subscriptions", "", token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing topic: status = %d, want 400", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartAddrClose(t *testing.T) {
	srv, _ := testServer(t, nil)

	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() after Start is empty")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestClose_NotStarted(t *testing.T) {
	srv, _ := testServer(t, nil)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
