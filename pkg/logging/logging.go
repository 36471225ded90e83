// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the printf-style log helpers used across the
// toolkit. Messages are routed through a single logrus logger so that level
// and format can be configured once from the command line.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

// exitFunc is called by Fatal. Tests replace it to observe fatal errors.
var exitFunc = os.Exit

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Logger returns the underlying logrus logger.
func Logger() *logrus.Logger {
	return logger
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// SetVerbose switches between debug and info levels.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// ParseLevel converts a level name to a logrus level, defaulting to info.
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// SetFormat selects "json" or "text" output.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Debug logs a formatted message at debug level.
func Debug(f string, a ...any) {
	logger.Debugf(f, a...)
}

// Info logs a formatted message at info level.
func Info(f string, a ...any) {
	logger.Infof(f, a...)
}

// Warn logs a formatted message at warning level.
func Warn(f string, a ...any) {
	logger.Warnf(f, a...)
}

// Error logs a formatted message at error level.
func Error(f string, a ...any) {
	logger.Errorf(f, a...)
}

// Fatal logs a formatted message at error level and exits with status 1.
func Fatal(f string, a ...any) {
	logger.Errorf(f, a...)
	exitFunc(1)
}
