package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/mqtt-session/internal/audit"
)

// recordAudit stores e for an accepted control request. Failures are logged;
// the request has already been handed to the session.
func (s *Server) recordAudit(r *http.Request, e *audit.Entry) {
	if s.audit == nil {
		return
	}
	e.ClientID = s.sess.ClientID()
	e.Subject = subjectOf(r)
	if err := s.audit.Create(r.Context(), e); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", e.Action,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
}

// handleListAudit returns audited control requests, newest first.
// Query parameters: action, subject, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Subject: q.Get("subject"),
	}

	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// intParam parses an optional integer query parameter, answering 400 when
// it is malformed.
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
