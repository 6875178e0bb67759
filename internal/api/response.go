// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package api provides the HTTP façade over the store, the recommendation
// selector, and the event publisher. Every response uses one wrapper shape so
// clients can branch on success and error codes uniformly.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/dymelabs/tastecore/internal/logging"
)

// APIResponse is the wrapper for all endpoint responses.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError carries a machine-readable code and a human-readable message.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// APIMeta carries response metadata.
type APIMeta struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Error codes matching the service's error taxonomy.
const (
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
	ErrCodeInternal           = "INTERNAL"
)

// ResponseWriter writes standardized API responses.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a response writer for one request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

func (rw *ResponseWriter) meta() *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

// Success writes a 200 response with data.
func (rw *ResponseWriter) Success(data any) {
	rw.writeJSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Created writes a 201 response with data.
func (rw *ResponseWriter) Created(data any) {
	rw.writeJSON(http.StatusCreated, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Error writes an error response with the given status and code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.writeJSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			RequestID: logging.RequestIDFromContext(rw.r.Context()),
		},
		Meta: rw.meta(),
	})
}

// InvalidArgument writes a 400 response.
func (rw *ResponseWriter) InvalidArgument(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeInvalidArgument, message)
}

// Unauthenticated writes a 401 response.
func (rw *ResponseWriter) Unauthenticated(message string) {
	rw.Error(http.StatusUnauthorized, ErrCodeUnauthenticated, message)
}

// PermissionDenied writes a 403 response.
func (rw *ResponseWriter) PermissionDenied(message string) {
	rw.Error(http.StatusForbidden, ErrCodePermissionDenied, message)
}

// NotFound writes a 404 response.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// FailedPrecondition writes a 412 response.
func (rw *ResponseWriter) FailedPrecondition(message string) {
	rw.Error(http.StatusPreconditionFailed, ErrCodeFailedPrecondition, message)
}

// Internal writes a 500 response.
func (rw *ResponseWriter) Internal(message string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternal, message)
}

func (rw *ResponseWriter) writeJSON(statusCode int, response APIResponse) {
	rw.w.Header().Set("Content-Type", "application/json")
	rw.w.WriteHeader(statusCode)
	if err := json.NewEncoder(rw.w).Encode(response); err != nil {
		logger := logging.Ctx(rw.r.Context())
		logger.Error().Err(err).Msg("write response")
	}
}
