package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/mqtt-session/internal/audit"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 3 * time.Second

// Payload encodings accepted by publish and used for streamed messages.
const (
	encodingUTF8   = "utf8"
	encodingBase64 = "base64"
)

// PublishRequest is the body of POST /session/publish.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`

	// Encoding is "utf8" (default) or "base64".
	Encoding string `json:"encoding,omitempty"`
	QoS      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
}

// SubscribeRequest is the body of POST /session/subscriptions.
type SubscribeRequest struct {
	Filters []FilterRequest `json:"filters"`
}

// FilterRequest is one topic filter in a SubscribeRequest.
type FilterRequest struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// RequestResponse carries the message ID the session assigned. The matching
// acknowledgement arrives on the event stream.
type RequestResponse struct {
	MessageID uint16 `json:"message_id"`
}

// SessionResponse is the body of GET /session.
type SessionResponse struct {
	ClientID string `json:"client_id"`
	State    string `json:"state"`
	Clients  int    `json:"stream_clients"`

	// DroppedEvents counts events not delivered to slow stream clients.
	DroppedEvents uint64 `json:"dropped_events"`
}

// handleHealth reports session state and runs every dependency check.
// It answers 503 when a check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":  status,
		"version": s.version,
		"session": s.sess.State().String(),
		"checks":  results,
	}
	if s.engine != "" {
		body["engine"] = s.engine
	}
	writeJSON(w, code, body)
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		ClientID: s.sess.ClientID(),
		State:    s.sess.State().String(),
		Clients:  s.hub.ClientCount(),

		DroppedEvents: s.hub.Dropped(),
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var payload []byte
	switch req.Encoding {
	case "", encodingUTF8:
		payload = []byte(req.Payload)
	case encodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			writeBadRequest(w, "payload is not valid base64")
			return
		}
		payload = decoded
	default:
		writeBadRequest(w, "encoding must be utf8 or base64")
		return
	}

	id, err := s.sess.Publish(req.Topic, payload, req.QoS, req.Retain)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	s.logger.Info("publish requested via API",
		"topic", req.Topic,
		"qos", req.QoS,
		"message_id", id,
		"subject", subjectOf(r),
	)
	s.recordAudit(r, &audit.Entry{
		Action:    audit.ActionPublish,
		Topic:     req.Topic,
		MessageID: id,
		Details:   map[string]any{"qos": req.QoS, "retain": req.Retain, "bytes": len(payload)},
	})
	writeJSON(w, http.StatusAccepted, RequestResponse{MessageID: id})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Filters) == 0 {
		writeBadRequest(w, "at least one filter is required")
		return
	}

	filters := make([]session.Filter, 0, len(req.Filters))
	topics := make([]string, 0, len(req.Filters))
	for _, f := range req.Filters {
		filters = append(filters, session.Filter{Topic: f.Topic, QoS: f.QoS})
		topics = append(topics, f.Topic)
	}

	id, err := s.sess.SubscribeMultiple(filters...)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	s.logger.Info("subscribe requested via API",
		"filters", len(filters),
		"message_id", id,
		"subject", subjectOf(r),
	)
	s.recordAudit(r, &audit.Entry{
		Action:    audit.ActionSubscribe,
		MessageID: id,
		Details:   map[string]any{"filters": topics},
	})
	writeJSON(w, http.StatusAccepted, RequestResponse{MessageID: id})
}

// handleUnsubscribe takes the filter from the topic query parameter.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeBadRequest(w, "topic query parameter is required")
		return
	}

	id, err := s.sess.Unsubscribe(topic)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.recordAudit(r, &audit.Entry{
		Action:    audit.ActionUnsubscribe,
		Topic:     topic,
		MessageID: id,
	})
	writeJSON(w, http.StatusAccepted, RequestResponse{MessageID: id})
}

func subjectOf(r *http.Request) string {
	if claims := claimsFrom(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
