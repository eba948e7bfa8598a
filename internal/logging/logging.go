/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout)
}

// SetupWithWriter configures zerolog to write to out. Development gets a
// console writer at debug level; everything else JSON at info.
func SetupWithWriter(environment string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	level := zerolog.InfoLevel
	writer := out
	if strings.EqualFold(environment, "development") {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(writer).With().
		Timestamp().
		Str("service", "slotmarket").
		Logger().
		Level(level)
	log.Logger = logger
	return logger
}
