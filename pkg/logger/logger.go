// Copyright 2026 The CareLoop Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, nil
	}
}

// Init installs the default logger. Format is "text" or "json".
func Init(levelStr, format string) {
	level, _ := ParseLevel(levelStr)
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter installs the default logger writing to w.
func InitWithWriter(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = &plainHandler{handler: slog.NewTextHandler(w, opts), writer: w, level: level}
	}

	slog.SetDefault(slog.New(handler))
}

// plainHandler renders "LEVEL message key=value" lines for terminals.
// Non-terminal writers fall through to the wrapped TextHandler.
type plainHandler struct {
	handler slog.Handler
	writer  io.Writer
	level   slog.Level
}

func (h *plainHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *plainHandler) Handle(ctx context.Context, record slog.Record) error {
	if f, ok := h.writer.(*os.File); !ok || !isTerminal(f) {
		return h.handler.Handle(ctx, record)
	}

	var buf strings.Builder
	levelStr := record.Level.String()
	if levelStr == "WARNING" {
		levelStr = "WARN"
	}
	buf.WriteString(strings.ToUpper(levelStr))
	buf.WriteString(" ")
	buf.WriteString(record.Message)
	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &plainHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer, level: h.level}
}

func (h *plainHandler) WithGroup(name string) slog.Handler {
	return &plainHandler{handler: h.handler.WithGroup(name), writer: h.writer, level: h.level}
}

func isTerminal(file *os.File) bool {
	if info, err := file.Stat(); err == nil {
		return (info.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
