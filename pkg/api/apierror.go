// Package api exposes the evaluator over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID echoes X-Request-ID.
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:    fmt.Sprintf("https://mplp.io/conformance/errors/%d", status),
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: w.Header().Get(RequestIDHeader),
	}
	if r != nil {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. err is logged, never returned
// to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get(RequestIDHeader))
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
