package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bazaar-market/ledger/internal/platform/requestctx"
)

// Error is the failure envelope returned by the API:
// {"success":false,"message":"...","error":...}.
type Error struct {
	Message   string
	Status    int
	Detail    any
	RequestID string
}

// NewError constructs an Error for the given status.
func NewError(status int, message string) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetail attaches the value rendered under "error". Upstream gateway payloads travel here.
func (e Error) WithDetail(detail any) Error {
	e.Detail = detail
	return e
}

// WithRequestID overrides the request identifier echoed in the envelope.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WriteError writes the failure envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"success": false,
		"message": err.Message,
	}
	if err.Detail != nil {
		payload["error"] = err.Detail
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}
	if requestID != "" {
		payload["requestId"] = requestID
	}
	if traceID := sanitize(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["traceId"] = traceID
	}

	WriteJSON(w, status, payload)
}

// WriteSuccess writes {"success":true,"message"?,"data"?}.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	payload := map[string]any{"success": true}
	if message != "" {
		payload["message"] = message
	}
	if data != nil {
		payload["data"] = data
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload as the response body.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
