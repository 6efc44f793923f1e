/*-------------------------------------------------------------------------
 *
 * uuid.go
 *    UUID helpers for NeuronLedger
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/utils/uuid.go
 *
 *-------------------------------------------------------------------------
 */

package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

/* ParseUUID parses an identifier from a path or query; the nil UUID is rejected */
func ParseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: value='%s', error=%w", field, s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s: nil uuid", field)
	}
	return id, nil
}
