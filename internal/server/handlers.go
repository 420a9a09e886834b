package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/docqa/internal/conversation"
)

// Response texts returned to clients.
const (
	welcomeMessage  = "Welcome to Semanto's AI Assistant API. Use /docs for API documentation."
	notReadyDetail  = "AI Assistant is still initializing or failed to load. Please try again later."
	internalDetail  = "An internal server error occurred while processing your request."
	maxRequestBytes = 64 << 10
)

// AskRequest is the body of POST /ask.
type AskRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// AskResponse is a successful POST /ask reply.
type AskResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse carries a client-safe description of a failure.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": welcomeMessage})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.assistant.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Detail: notReadyDetail})
		return
	}

	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "request body must be a JSON object with session_id and question"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "session_id is required"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "question is required"})
		return
	}

	answer, err := s.assistant.Ask(ctx, req.SessionID, req.Question)
	if err != nil {
		status, detail := errorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(ctx, "ask failed", "kind", conversation.KindOf(err), "error", err)
		}
		writeJSON(w, status, ErrorResponse{Detail: detail})
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{Answer: answer})
}

// errorResponse maps a pipeline error to a status and a body that leaks no
// internal detail.
func errorResponse(err error) (int, string) {
	var perr *conversation.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, internalDetail
	}
	switch perr.Kind {
	case conversation.KindNotReady:
		return http.StatusServiceUnavailable, notReadyDetail
	case conversation.KindInvalidRequest:
		return http.StatusBadRequest, perr.Err.Error()
	default:
		return http.StatusInternalServerError, internalDetail
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	status := s.assistant.Status()
	code := http.StatusOK
	if !s.assistant.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may have gone away; nothing useful to do with the error.
	_ = json.NewEncoder(w).Encode(payload)
}
