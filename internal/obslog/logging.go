/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package obslog sets up the engine's structured logger: a flag-registered
// level, an optional log-file destination, and a JSON handler scoped with a
// fixed "component" attribute so every line from the engine can be told
// apart from host-process logging in a shared log stream.
package obslog

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the logger configuration.
type Config struct {
	Level   slog.Level
	LogDir  string
	LogName string
}

// FlagPointers holds pointers to flag values for logging configuration.
type FlagPointers struct {
	logLevel *string
	logDir   *string
	logName  *string
}

// RegisterFlags registers logging-related command-line flags. Must be
// followed by flag.Parse() and then ToConfig().
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		logLevel: flag.String("gocol-log-level", "info", "Log level (debug, info, warn, error)"),
		logDir:   flag.String("gocol-log-dir", "", "Directory to write log files to, in addition to stdout"),
		logName:  flag.String("gocol-log-name", "", "Base name for the log file (without extension)"),
	}
}

// ToConfig converts flag pointers to Config. Must be called after
// flag.Parse().
func (f *FlagPointers) ToConfig() Config {
	return Config{
		Level:   ParseLevel(*f.logLevel),
		LogDir:  *f.logDir,
		LogName: *f.logName,
	}
}

// ParseLevel converts a string log level to slog.Level, defaulting to info
// for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the engine's root logger. Every record carries
// component="gocol" so it can be filtered out of a host process's own log
// stream. If config.LogDir is set, output is duplicated to a timestamped
// file under that directory; otherwise it goes only to stdout.
func New(config Config) *slog.Logger {
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if config.LogDir != "" {
		if f, err := openLogFile(config); err != nil {
			fmt.Fprintf(os.Stderr, "obslog: %v\n", err)
		} else {
			writers = append(writers, f)
		}
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: config.Level,
	})
	return slog.New(handler).With(slog.String("component", "gocol"))
}

func openLogFile(config Config) (*os.File, error) {
	if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", config.LogDir, err)
	}
	name := config.LogName
	if name == "" {
		name = "gocol"
	}
	fileName := fmt.Sprintf("%s_%d.jsonl", name, time.Now().UnixNano())
	f, err := os.OpenFile(filepath.Join(config.LogDir, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// BatchLogger scopes logger with the batch name under the "batch" key.
// It does not add the strategy kind.
func BatchLogger(logger *slog.Logger, batchName string) *slog.Logger {
	return logger.With(slog.String("batch", batchName))
}
