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

// Package backend turns submission specs into scheduler jobs: it renders
// their batch scripts, submits them, and decides when they are finished.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hpc-batch/pkg/batchtemplate"
	"hpc-batch/pkg/imagebuilder"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/layout"
	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/shell"
	"hpc-batch/pkg/statuscache"
	"hpc-batch/pkg/submission"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DryRunPrefix starts every identifier assigned without submitting.
const DryRunPrefix = "dryrun-"

// DefaultMarkerTimeout is how long a finished multi-task allocation may miss
// task markers before its job is declared failed.
const DefaultMarkerTimeout = 30 * time.Minute

// ImageStager makes an image available to the scheduler before submission.
type ImageStager interface {
	Stage(ctx context.Context, image string) error
}

// Environment is shared by every job of one executor.
type Environment struct {
	Descriptor Descriptor
	Resources  ResourceSpec
	Templates  *batchtemplate.Set
	Fs         afero.Fs
	Runner     shell.Runner
	Cache      *statuscache.Cache
	// Folder holds one directory per job.
	Folder string
	// Stager is used by vendor jobs; nil disables staging.
	Stager ImageStager
	// MarkerTimeout bounds how long a finished multi-task allocation may
	// miss task markers before it is declared failed. Zero waits forever;
	// executors default it to DefaultMarkerTimeout.
	MarkerTimeout time.Duration
	Now           func() time.Time
}

func (e *Environment) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Job is one scheduler submission: a single command, or on multi-task
// backends several commands sharing one allocation.
type Job struct {
	ID int

	env    *Environment
	specs  []submission.Spec
	multi    bool
	strategy Strategy
	fanout   fanout
	paths    layout.Paths

	state      State
	clusterID  string
	dryRun     bool
	finishedAt time.Time
	tasks      TaskSummary
}

// NewJob creates a single-command job.
func NewJob(env *Environment, id int, spec submission.Spec) *Job {
	return &Job{
		ID:    id,
		env:   env,
		specs: []submission.Spec{spec},
		paths: layout.For(env.Folder, id),
		state: NotStarted,
	}
}

// NewMultiJob creates a job running specs in one allocation with the
// configured strategy.
func NewMultiJob(env *Environment, id int, specs []submission.Spec) (*Job, error) {
	if !env.Descriptor.MultiTask {
		return nil, joberrors.Configurationf("submitting many commands in one allocation is not supported by %s", env.Descriptor.Kind)
	}
	if len(specs) == 0 {
		return nil, joberrors.Configurationf("a multi-task job needs at least one command")
	}
	strategy, err := ParseStrategy(string(env.Resources.Strategy))
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:       id,
		env:      env,
		specs:    append([]submission.Spec(nil), specs...),
		multi:    true,
		strategy: strategy,
		fanout:   newFanout(strategy),
		paths:    layout.For(env.Folder, id),
		state:    NotStarted,
	}, nil
}

// Paths returns the artifact paths of the job.
func (j *Job) Paths() layout.Paths { return j.paths }

// State returns the lifecycle state.
func (j *Job) State() State { return j.state }

// ClusterID returns the scheduler identifier, empty before Start.
func (j *Job) ClusterID() string { return j.clusterID }

// MultiTask reports whether the job fans out several commands.
func (j *Job) MultiTask() bool { return j.multi }

// Strategy returns the fan-out strategy of a multi-task job, empty otherwise.
func (j *Job) Strategy() Strategy { return j.strategy }

// Specs returns the commands run by the job.
func (j *Job) Specs() []submission.Spec { return j.specs }

// image returns the image reference used by the container runtime.
func (j *Job) image() string {
	if j.env.Descriptor.Vendor {
		return imagebuilder.Resolve(j.env.Fs, j.env.Resources.Image).Name
	}
	return j.env.Resources.Image
}

func (j *Job) container(spec submission.Spec) string {
	return j.env.Descriptor.Container(j.env.Resources.Hub, j.image(), spec.ExecutionParameters, spec.Command())
}

// GenerateBatch writes the submission script and, for multi-task jobs, the
// strategy files. Output and markers of a previous run are removed first.
func (j *Job) GenerateBatch() error {
	fsys := j.env.Fs
	if err := fsys.MkdirAll(j.paths.JobDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", j.paths.JobDir, err)
	}
	if err := layout.RemoveStale(fsys, j.paths); err != nil {
		return err
	}

	fields := j.env.Resources.fields(j.env.Descriptor, j.image())
	fields.Stdout = j.paths.Stdout
	fields.Stderr = j.paths.Stderr

	tmpl := j.env.Descriptor.BatchTemplate
	if j.multi {
		var err error
		if tmpl, err = j.fanout.prepare(j, &fields); err != nil {
			return err
		}
	} else {
		fields.Command = j.container(j.specs[0])
	}

	script, err := j.env.Templates.Render(tmpl, fields)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fsys, j.paths.Script, []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to write %s: %w", j.paths.Script, err)
	}
	return nil
}

// Start generates the batch script and submits it. With dryRun the
// artifacts are written but nothing is submitted, and the job gets a
// synthetic identifier.
func (j *Job) Start(ctx context.Context, dryRun bool) error {
	if j.state != NotStarted {
		return joberrors.Submissionf("job %d already started", j.ID)
	}
	if j.env.Descriptor.Vendor && !dryRun && j.env.Stager != nil {
		if err := j.env.Stager.Stage(ctx, j.env.Resources.Image); err != nil {
			logging.Warn("Can't import image %s: %v", j.env.Resources.Image, err)
		}
	}
	if err := j.GenerateBatch(); err != nil {
		return err
	}

	if dryRun {
		j.dryRun = true
		j.clusterID = fmt.Sprintf("%s%d", DryRunPrefix, j.ID)
		j.log().Infof("Generated in %s (dry run)", j.paths.JobDir)
		return j.transition(Running)
	}

	d := j.env.Descriptor
	res := j.env.Runner.Run(ctx, d.SubmitCommand, j.paths.Script)
	if res.Failed() {
		return joberrors.WrapSubmission(res.Err, "%s %s exited %d: %s", d.SubmitCommand, j.paths.Script, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	id, err := d.ParseID(res.Stdout)
	if err != nil {
		return err
	}
	j.clusterID = id
	j.env.Cache.Register(id)
	j.log().Info("Submitted")
	return j.transition(Running)
}

// Done reports whether the job has finished, settling it to DONE or FAILED
// the first time completion is observed. It reads the status cache and the
// marker files only, it never queries the scheduler.
func (j *Job) Done() bool {
	switch {
	case j.state.IsTerminal():
		return true
	case j.state == NotStarted:
		return false
	case j.dryRun:
		j.settle(Done)
		return true
	case !j.env.Cache.IsDone(j.clusterID):
		return false
	}

	rec, _ := j.env.Cache.Record(j.clusterID)
	schedulerFailed := statuscache.IsFailure(rec.State)
	if !j.multi {
		if schedulerFailed {
			j.settle(Failed)
		} else {
			j.settle(Done)
		}
		return true
	}

	summary, err := j.scanTasks()
	if err != nil {
		j.log().Warn(err)
		return false
	}
	j.tasks = summary
	switch {
	case summary.Finished == summary.Total:
		if schedulerFailed || summary.Failed > 0 {
			j.settle(Failed)
		} else {
			j.settle(Done)
		}
		return true
	case schedulerFailed:
		// The allocation died, missing tasks will never report.
		j.settle(Failed)
		return true
	}

	missing := summary.Total - summary.Finished
	if j.finishedAt.IsZero() {
		j.finishedAt = j.env.now()
		if t := j.env.MarkerTimeout; t > 0 {
			j.log().Warnf("Allocation finished with %d of %d task markers missing, waiting up to %s", missing, summary.Total, t)
		} else {
			j.log().Warnf("Allocation finished with %d of %d task markers missing, waiting for them", missing, summary.Total)
		}
	}
	if t := j.env.MarkerTimeout; t > 0 && j.env.now().Sub(j.finishedAt) >= t {
		j.log().Warnf("%d of %d task markers still missing after %s", missing, summary.Total, t)
		j.settle(Failed)
		return true
	}
	return false
}

// log returns an entry tagged with the job identifiers.
func (j *Job) log() *logrus.Entry {
	fields := logrus.Fields{"job": j.ID, "cluster": j.env.Descriptor.Kind}
	if j.clusterID != "" {
		fields["cluster_id"] = j.clusterID
	}
	return logging.WithFields(fields)
}

// Stop cancels the job on the scheduler.
func (j *Job) Stop(ctx context.Context) error {
	if j.state != Running {
		return joberrors.Submissionf("job %d is not running (%s)", j.ID, j.state)
	}
	if j.dryRun {
		return nil
	}
	d := j.env.Descriptor
	res := j.env.Runner.Run(ctx, d.StopCommand, j.clusterID)
	if res.Failed() {
		return joberrors.WrapSubmission(res.Err, "%s %s exited %d: %s", d.StopCommand, j.clusterID, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	j.log().Info("Stopped")
	return nil
}

func (j *Job) transition(to State) error {
	if !j.state.CanTransitionTo(to) {
		return fmt.Errorf("job %d: invalid transition %s -> %s", j.ID, j.state, to)
	}
	j.state = to
	return nil
}

func (j *Job) settle(to State) {
	if err := j.transition(to); err != nil {
		logging.Error("%v", err)
	}
}

func (j *Job) scanTasks() (TaskSummary, error) {
	markers, err := layout.ScanMarkers(j.env.Fs, j.paths, j.fanout.markers())
	if err != nil {
		return TaskSummary{}, err
	}
	return summarize(len(j.specs), markers), nil
}
