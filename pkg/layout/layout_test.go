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

package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestFor(t *testing.T) {
	got := For("/work", 7)
	want := Paths{
		JobDir:     "/work/job_7",
		Script:     "/work/job_7/submit.sh",
		Stdout:     "/work/job_7/stdout.log",
		Stderr:     "/work/job_7/stderr.log",
		TaskFile:   "/work/job_7/tasks.txt",
		WorkerFile: "/work/job_7/worker.sh",
		PoolDriver: "/work/job_7/pool.sh",
		Oneshot:    "/work/job_7/oneshot.sh",
		LogDir:     "/work/job_7/logs",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("For() mismatch (-want +got):\n%s", diff)
	}
	if got.ExitCodeFile(3) != "/work/job_7/logs/task_3.exitcode" {
		t.Errorf("ExitCodeFile = %s", got.ExitCodeFile(3))
	}
	if got.BulkLog(0) != "/work/job_7/logs/bulk_0.log" {
		t.Errorf("BulkLog = %s", got.BulkLog(0))
	}
}

func TestForIsDistinctPerJob(t *testing.T) {
	a, b := For("/work", 1), For("/work", 2)
	if a.JobDir == b.JobDir || a.Script == b.Script || a.LogDir == b.LogDir {
		t.Errorf("paths collide: %+v %+v", a, b)
	}
}

func TestScanExitCodeMarkers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p := For("/work", 1)
	files := map[string]string{
		p.ExitCodeFile(2):             "1\n",
		p.ExitCodeFile(0):             "0\n",
		p.ExitCodeFile(1):             "",
		p.LogDir + "/task_1.out":      "noise",
		p.LogDir + "/task_x.exitcode": "0",
		p.BulkLog(0):                  "exitcode=0\n",
	}
	for name, content := range files {
		if err := afero.WriteFile(fsys, name, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ScanMarkers(fsys, p, ExitCodeMarkers)
	if err != nil {
		t.Fatal(err)
	}
	want := []Marker{
		{Index: 0, Path: p.ExitCodeFile(0), ExitCode: 0, Complete: true},
		{Index: 1, Path: p.ExitCodeFile(1)},
		{Index: 2, Path: p.ExitCodeFile(2), ExitCode: 1, Complete: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanMarkers mismatch (-want +got):\n%s", diff)
	}
}

func TestScanBulkLogMarkers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p := For("/work", 4)
	_ = afero.WriteFile(fsys, p.BulkLog(0), []byte("hello\nexitcode=0\n"), 0o644)
	_ = afero.WriteFile(fsys, p.BulkLog(1), []byte("still running\n"), 0o644)
	_ = afero.WriteFile(fsys, p.BulkLog(2), []byte("boom\nexitcode=137\n\n"), 0o644)

	got, err := ScanMarkers(fsys, p, BulkLogMarkers)
	if err != nil {
		t.Fatal(err)
	}
	want := []Marker{
		{Index: 0, Path: p.BulkLog(0), ExitCode: 0, Complete: true},
		{Index: 1, Path: p.BulkLog(1)},
		{Index: 2, Path: p.BulkLog(2), ExitCode: 137, Complete: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanMarkers mismatch (-want +got):\n%s", diff)
	}
}

func TestScanMissingLogDir(t *testing.T) {
	got, err := ScanMarkers(afero.NewMemMapFs(), For("/nowhere", 1), ExitCodeMarkers)
	if err != nil || got != nil {
		t.Errorf("ScanMarkers = %v, %v; want nil, nil", got, err)
	}
}

func TestRemoveStale(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p := For("/work", 1)
	for _, f := range []string{p.Stdout, p.Stderr, p.ExitCodeFile(0), p.Script} {
		_ = afero.WriteFile(fsys, f, []byte("old"), 0o644)
	}
	if err := RemoveStale(fsys, p); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{p.Stdout, p.Stderr, p.ExitCodeFile(0)} {
		if ok, _ := afero.Exists(fsys, f); ok {
			t.Errorf("%s still exists", f)
		}
	}
	if ok, _ := afero.Exists(fsys, p.Script); !ok {
		t.Error("RemoveStale removed the submission script")
	}
	// Second call on a clean directory is a no-op.
	if err := RemoveStale(fsys, p); err != nil {
		t.Errorf("second RemoveStale: %v", err)
	}
}
