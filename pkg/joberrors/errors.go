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

// Package joberrors defines the error categories raised while configuring,
// generating, submitting and polling jobs.
//
// Every error produced by the helpers below matches exactly one of the kind
// sentinels with errors.Is, and still unwraps to its underlying cause.
package joberrors

import (
	"github.com/pkg/errors"
)

// Kind sentinels.
var (
	// ErrConfiguration marks invalid executor or submission settings. Fatal.
	ErrConfiguration = errors.New("configuration error")
	// ErrTemplate marks a missing, unreadable or unrenderable batch template.
	ErrTemplate = errors.New("template error")
	// ErrSubmission marks a failed submission command or unparsable job id.
	ErrSubmission = errors.New("submission error")
	// ErrUnavailable marks a failed status query. Transient.
	ErrUnavailable = errors.New("scheduler unavailable")
	// ErrImageImport marks a failed best-effort container image import.
	ErrImageImport = errors.New("image import error")
)

// Error is a categorised error.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

func wrapf(kind, err error, format string, args ...any) error {
	if err == nil {
		return newf(kind, format, args...)
	}
	return &Error{Kind: kind, Err: errors.WithMessagef(err, format, args...)}
}

// Configurationf returns a configuration error.
func Configurationf(format string, args ...any) error {
	return newf(ErrConfiguration, format, args...)
}

// Templatef returns a template error.
func Templatef(format string, args ...any) error {
	return newf(ErrTemplate, format, args...)
}

// WrapTemplate wraps err as a template error.
func WrapTemplate(err error, format string, args ...any) error {
	return wrapf(ErrTemplate, err, format, args...)
}

// Submissionf returns a submission error.
func Submissionf(format string, args ...any) error {
	return newf(ErrSubmission, format, args...)
}

// WrapSubmission wraps err as a submission error.
func WrapSubmission(err error, format string, args ...any) error {
	return wrapf(ErrSubmission, err, format, args...)
}

// Unavailablef returns an unavailable error.
func Unavailablef(format string, args ...any) error {
	return newf(ErrUnavailable, format, args...)
}

// WrapUnavailable wraps err as an unavailable error.
func WrapUnavailable(err error, format string, args ...any) error {
	return wrapf(ErrUnavailable, err, format, args...)
}

// ImageImportf returns an image import error.
func ImageImportf(format string, args ...any) error {
	return newf(ErrImageImport, format, args...)
}

// WrapImageImport wraps err as an image import error.
func WrapImageImport(err error, format string, args ...any) error {
	return wrapf(ErrImageImport, err, format, args...)
}

// IsTransient reports whether err should be absorbed and retried on the next
// scheduled refresh rather than surfaced.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
