/*-------------------------------------------------------------------------
 *
 * errors.go
 *    API error responses for NeuronLedger
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/errors.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

/* APIError is an error with an HTTP status */
type APIError struct {
	Code      int
	Message   string
	Field     string
	Err       error
	RequestID string
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

/* ErrorResponse is the JSON body of every error */
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var (
	ErrUnauthorized = &APIError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &APIError{Code: http.StatusNotFound, Message: "not found"}
)

func NewError(code int, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, Err: err}
}

/* WrapError copies err and stamps the request id */
func WrapError(err *APIError, requestID string) *APIError {
	out := *err
	out.RequestID = requestID
	return &out
}

func notFound(r *http.Request, resource string) *APIError {
	return WrapError(NewError(http.StatusNotFound, resource+" not found", nil), GetRequestID(r.Context()))
}

func badRequest(r *http.Request, message string, err error) *APIError {
	return WrapError(NewError(http.StatusBadRequest, message, err), GetRequestID(r.Context()))
}

/*
 * serviceError maps a service-layer error: validation failures become 400
 * with the offending field, anything else is logged and reported as 500
 * without internal detail.
 */
func serviceError(r *http.Request, message string, err error) *APIError {
	requestID := GetRequestID(r.Context())

	var ve *validation.Error
	if errors.As(err, &ve) {
		return &APIError{Code: http.StatusBadRequest, Message: ve.Error(), Field: ve.Field, RequestID: requestID}
	}

	metrics.ErrorWithContext(r.Context(), message, err, map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	})
	return &APIError{Code: http.StatusInternalServerError, Message: message, RequestID: requestID}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err *APIError) {
	response := ErrorResponse{
		Error:     err.Message,
		Code:      err.Code,
		Field:     err.Field,
		RequestID: err.RequestID,
	}
	if err.Err != nil && err.Code < http.StatusInternalServerError {
		response.Message = err.Err.Error()
	}
	if err.RequestID != "" {
		w.Header().Set("X-Request-ID", err.RequestID)
	}
	respondJSON(w, err.Code, response)
}
