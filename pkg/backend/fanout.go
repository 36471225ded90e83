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

package backend

import (
	"fmt"
	"strings"

	"hpc-batch/pkg/batchtemplate"
	"hpc-batch/pkg/layout"

	"github.com/spf13/afero"
)

// fanout writes the files that run several commands inside one allocation.
type fanout interface {
	// prepare writes the strategy files, sets the batch command in f and
	// returns the batch template to render.
	prepare(j *Job, f *batchtemplate.Fields) (string, error)
	// markers is the kind of per-task completion file the strategy leaves.
	markers() layout.MarkerKind
}

func newFanout(s Strategy) fanout {
	switch s {
	case Pool:
		return poolFanout{}
	case Oneshot:
		return oneshotFanout{}
	default:
		return bulkFanout{}
	}
}

// bulkFanout lists one line per task for the scheduler bulk launcher. Each
// line runs the worker script, which records the task exit code at the end
// of its bulk log.
type bulkFanout struct{}

func (bulkFanout) prepare(j *Job, f *batchtemplate.Fields) (string, error) {
	fsys := j.env.Fs
	p := j.paths
	worker, err := j.env.Templates.Static(batchtemplate.Worker)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(fsys, p.WorkerFile, worker, 0o755); err != nil {
		return "", fmt.Errorf("failed to copy worker to %s: %w", p.WorkerFile, err)
	}
	if err := fsys.MkdirAll(p.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", p.LogDir, err)
	}

	lines := make([]string, len(j.specs))
	for i, spec := range j.specs {
		lines[i] = fmt.Sprintf("%d bash %s %s %d %s", j.env.Resources.NMultiCPUs, p.WorkerFile, p.LogDir, i, j.container(spec))
	}
	if err := afero.WriteFile(fsys, p.TaskFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p.TaskFile, err)
	}

	f.Command = p.TaskFile
	f.LogDir = p.LogDir
	f.WorkerFile = p.WorkerFile
	f.NJobs = len(j.specs)
	return j.env.Descriptor.MultiBatchTemplate, nil
}

func (bulkFanout) markers() layout.MarkerKind { return layout.BulkLogMarkers }

// poolFanout runs the container commands from a driver keeping at most
// NCPUs of them running.
type poolFanout struct{}

func (poolFanout) prepare(j *Job, f *batchtemplate.Fields) (string, error) {
	commands := make([]string, len(j.specs))
	for i, spec := range j.specs {
		commands[i] = j.container(spec)
	}
	driver := *f
	driver.LogDir = j.paths.LogDir
	driver.Commands = commands
	driver.NJobs = j.env.Resources.NCPUs
	if err := writeDriver(j, batchtemplate.PoolDriver, driver, j.paths.PoolDriver); err != nil {
		return "", err
	}

	f.Command = "bash " + batchtemplate.ShellQuote(j.paths.PoolDriver)
	f.LogDir = j.paths.LogDir
	f.NJobs = driver.NJobs
	return j.env.Descriptor.BatchTemplate, nil
}

func (poolFanout) markers() layout.MarkerKind { return layout.ExitCodeMarkers }

// oneshotFanout starts the container once and runs the plain commands one
// after another inside it.
type oneshotFanout struct{}

func (oneshotFanout) prepare(j *Job, f *batchtemplate.Fields) (string, error) {
	commands := make([]string, len(j.specs))
	for i, spec := range j.specs {
		commands[i] = spec.Command()
	}
	driver := *f
	driver.LogDir = j.paths.LogDir
	driver.Commands = commands
	if err := writeDriver(j, batchtemplate.OneshotDriver, driver, j.paths.Oneshot); err != nil {
		return "", err
	}

	// The first spec carries the container parameters for the whole run.
	f.Command = j.env.Descriptor.ContainerScript(j.env.Resources.Hub, j.image(), j.specs[0].ExecutionParameters, j.paths.Oneshot)
	f.LogDir = j.paths.LogDir
	f.NJobs = len(j.specs)
	return j.env.Descriptor.BatchTemplate, nil
}

func (oneshotFanout) markers() layout.MarkerKind { return layout.ExitCodeMarkers }

func writeDriver(j *Job, tmpl string, data batchtemplate.Fields, path string) error {
	content, err := j.env.Templates.Render(tmpl, data)
	if err != nil {
		return err
	}
	if err := j.env.Fs.MkdirAll(j.paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", j.paths.LogDir, err)
	}
	if err := afero.WriteFile(j.env.Fs, path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
