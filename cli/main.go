/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"github.com/neurondb/NeuronLedger/cli/cmd"
)

func main() {
	cmd.Execute()
}
