/*-------------------------------------------------------------------------
 *
 * common.go
 *    Common validation functions for NeuronLedger
 *
 * Every failure is an *Error so callers can tell configuration mistakes
 * (rejected with 4xx, never retried) from operational failures.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/validation/common.go
 *
 *-------------------------------------------------------------------------
 */

package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

/* Error is a rejected input value */
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

/* Errorf builds a validation error for field */
func Errorf(field, format string, args ...interface{}) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

/* IsValidationError reports whether err wraps an *Error */
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

/* ValidateRequired checks if a string is non-empty */
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return Errorf(fieldName, "is required and cannot be empty")
	}
	return nil
}

/* ValidateMaxLength checks if a string length is within limit */
func ValidateMaxLength(value, fieldName string, maxLength int) error {
	if len(value) > maxLength {
		return Errorf(fieldName, "length %d exceeds maximum %d", len(value), maxLength)
	}
	return nil
}

/* ValidateIntRange validates integer is within range */
func ValidateIntRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return Errorf(fieldName, "value %d is outside valid range [%d, %d]", value, min, max)
	}
	return nil
}

/* ValidateNonNegative validates integer is non-negative */
func ValidateNonNegative(value int64, fieldName string) error {
	if value < 0 {
		return Errorf(fieldName, "cannot be negative, got %d", value)
	}
	return nil
}

/* ValidateOneOf validates value is one of allowed */
func ValidateOneOf(value, fieldName string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return Errorf(fieldName, "invalid value '%s', allowed: %s", value, strings.Join(allowed, ", "))
}

/* ValidateHTTPURL requires an absolute http:// or https:// URL with a host */
func ValidateHTTPURL(raw, fieldName string) error {
	if err := ValidateRequired(raw, fieldName); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Errorf(fieldName, "is not a valid URL: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Errorf(fieldName, "must use http:// or https://, got scheme '%s'", u.Scheme)
	}
	if u.Host == "" {
		return Errorf(fieldName, "must include a host")
	}
	return nil
}

/* ValidatePagination validates limit and offset */
func ValidatePagination(limit, offset int) error {
	if limit < 0 {
		return Errorf("limit", "cannot be negative: %d", limit)
	}
	if limit > 1000 {
		return Errorf("limit", "%d exceeds maximum 1000", limit)
	}
	if offset < 0 {
		return Errorf("offset", "cannot be negative: %d", offset)
	}
	return nil
}

/* ReadAndValidateBody reads and validates HTTP request body size */
func ReadAndValidateBody(r *http.Request, maxSize int64) ([]byte, error) {
	if r.Body == nil {
		return nil, Errorf("body", "request body is required")
	}

	limitedReader := io.LimitReader(r.Body, maxSize+1)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if int64(len(bodyBytes)) > maxSize {
		return nil, Errorf("body", "size %d exceeds maximum %d bytes", len(bodyBytes), maxSize)
	}

	return bodyBytes, nil
}
