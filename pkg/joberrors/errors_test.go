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

package joberrors

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestKindsMatchOnlyThemselves(t *testing.T) {
	kinds := []error{ErrConfiguration, ErrTemplate, ErrSubmission, ErrUnavailable, ErrImageImport}
	made := map[error]error{
		ErrConfiguration: Configurationf("bad cluster %q", "lsf"),
		ErrTemplate:      Templatef("missing placeholder"),
		ErrSubmission:    Submissionf("empty job id"),
		ErrUnavailable:   Unavailablef("squeue exited 1"),
		ErrImageImport:   ImageImportf("no archive"),
	}
	for kind, err := range made {
		for _, other := range kinds {
			if got := errors.Is(err, other); got != (kind == other) {
				t.Errorf("errors.Is(%v, %v) = %v", err, other, got)
			}
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := WrapTemplate(fs.ErrNotExist, "read template %s", "slurm_batch.tmpl")
	if !errors.Is(err, ErrTemplate) {
		t.Error("wrapped error lost its kind")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("wrapped error lost its cause")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "template error: read template slurm_batch.tmpl") {
		t.Errorf("message = %q", msg)
	}
}

func TestWrapNilCause(t *testing.T) {
	err := WrapSubmission(nil, "sbatch exited %d", 1)
	if !errors.Is(err, ErrSubmission) {
		t.Fatal("kind lost")
	}
	if err.Error() != "submission error: sbatch exited 1" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(WrapUnavailable(errors.New("exit 1"), "squeue")) {
		t.Error("unavailable error should be transient")
	}
	if IsTransient(Submissionf("x")) {
		t.Error("submission error should not be transient")
	}
}
