/*-------------------------------------------------------------------------
 *
 * format.go
 *    Formatting helpers for error context and stored text
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/utils/format.go
 *
 *-------------------------------------------------------------------------
 */

package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxQueryPreview = 200

/* FormatConnectionInfo renders connection details without credentials */
func FormatConnectionInfo(host string, port int, database, user string) string {
	return fmt.Sprintf("database '%s' on %s:%d as user '%s'", database, host, port, user)
}

/* FormatQueryContext renders a compact description of a failing query */
func FormatQueryContext(query string, paramCount int, operation, table string) string {
	compact := strings.Join(strings.Fields(query), " ")
	return fmt.Sprintf("operation='%s', table='%s', params=%d, query='%s'",
		operation, table, paramCount, Truncate(compact, maxQueryPreview))
}

/* SanitizeText makes s storable in a TEXT column: valid UTF-8 and no NUL bytes */
func SanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

/*
 * Truncate shortens s to at most max runes. Stored response bodies and
 * error messages have hard size limits, so cuts never split a rune.
 */
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
