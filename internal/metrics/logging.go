/*-------------------------------------------------------------------------
 *
 * logging.go
 *    Global logger initialization
 *
 * Configures zerolog as the process logger. File output is rotated by
 * lumberjack.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/metrics/logging.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

/* LogOptions configures the process logger */
type LogOptions struct {
	Level      string
	Format     string /* json or console */
	Output     string /* stdout, stderr or a file path */
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

/* InitLogging sets the global zerolog logger and returns the writer in use */
func InitLogging(opts LogOptions) io.Writer {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer
	switch opts.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		out = &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
	}

	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "neuronledger").Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return out
}
