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

// Package layout maps a working folder and a job id to the files a job
// reads and writes, and scans the per-task completion markers.
package layout

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/spf13/afero"
)

const (
	bulkLogPattern  = "bulk_*.log"
	exitCodePattern = "task_*.exitcode"
	exitCodeMarker  = "exitcode="
)

// Paths lists every artifact of one job. All paths are absolute when the
// folder is.
type Paths struct {
	JobDir     string
	Script     string
	Stdout     string
	Stderr     string
	TaskFile   string
	WorkerFile string
	PoolDriver string
	Oneshot    string
	LogDir     string
}

// For returns the artifact paths of job id under folder.
func For(folder string, id int) Paths {
	dir := filepath.Join(folder, fmt.Sprintf("job_%d", id))
	return Paths{
		JobDir:     dir,
		Script:     filepath.Join(dir, "submit.sh"),
		Stdout:     filepath.Join(dir, "stdout.log"),
		Stderr:     filepath.Join(dir, "stderr.log"),
		TaskFile:   filepath.Join(dir, "tasks.txt"),
		WorkerFile: filepath.Join(dir, "worker.sh"),
		PoolDriver: filepath.Join(dir, "pool.sh"),
		Oneshot:    filepath.Join(dir, "oneshot.sh"),
		LogDir:     filepath.Join(dir, "logs"),
	}
}

// ExitCodeFile is the marker written by the pool and oneshot drivers for task i.
func (p Paths) ExitCodeFile(i int) string {
	return filepath.Join(p.LogDir, fmt.Sprintf("task_%d.exitcode", i))
}

// BulkLog is the log written by the bulk worker for task i.
func (p Paths) BulkLog(i int) string {
	return filepath.Join(p.LogDir, fmt.Sprintf("bulk_%d.log", i))
}

// MarkerKind selects which marker files a fan-out strategy produces.
type MarkerKind int

const (
	// ExitCodeMarkers are task_<i>.exitcode files holding a bare exit code.
	ExitCodeMarkers MarkerKind = iota
	// BulkLogMarkers are bulk_<i>.log files ending with "exitcode=<n>".
	BulkLogMarkers
)

func (k MarkerKind) pattern() string {
	if k == BulkLogMarkers {
		return bulkLogPattern
	}
	return exitCodePattern
}

// Marker is a per-task completion record found on disk.
type Marker struct {
	Index    int
	Path     string
	ExitCode int
	// Complete is false when the file exists but holds no exit code yet.
	Complete bool
}

// ScanMarkers returns the markers of kind found in the log directory,
// ordered by task index. A missing log directory yields no markers.
func ScanMarkers(fsys afero.Fs, p Paths, kind MarkerKind) ([]Marker, error) {
	matcher, err := patternmatcher.New([]string{kind.pattern()})
	if err != nil {
		return nil, fmt.Errorf("failed to create marker matcher: %w", err)
	}
	entries, err := afero.ReadDir(fsys, p.LogDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p.LogDir, err)
	}

	var markers []Marker
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := matcher.MatchesOrParentMatches(e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to match %q: %w", e.Name(), err)
		}
		if !ok {
			continue
		}
		idx, ok := markerIndex(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(p.LogDir, e.Name())
		m := Marker{Index: idx, Path: path}
		m.ExitCode, m.Complete, err = readExitCode(fsys, path, kind)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].Index < markers[j].Index })
	return markers, nil
}

// RemoveStale deletes output logs and markers left by an earlier run of the job.
func RemoveStale(fsys afero.Fs, p Paths) error {
	for _, f := range []string{p.Stdout, p.Stderr} {
		if err := fsys.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}
	if err := fsys.RemoveAll(p.LogDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p.LogDir, err)
	}
	return nil
}

// markerIndex extracts i from task_<i>.exitcode or bulk_<i>.log.
func markerIndex(base string) (int, bool) {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	_, num, found := strings.Cut(stem, "_")
	if !found {
		return 0, false
	}
	i, err := strconv.Atoi(num)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func readExitCode(fsys afero.Fs, path string, kind MarkerKind) (int, bool, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open marker %s: %w", path, err)
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return 0, false, fmt.Errorf("failed to read marker %s: %w", path, err)
	}

	if kind == BulkLogMarkers {
		if !strings.HasPrefix(last, exitCodeMarker) {
			return 0, false, nil
		}
		last = strings.TrimPrefix(last, exitCodeMarker)
	}
	code, err := strconv.Atoi(last)
	if err != nil {
		return 0, false, nil
	}
	return code, true, nil
}
