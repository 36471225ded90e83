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

// Package orchestrator holds the executor: the job list, the submission
// counter and the throttled admission loop driving jobs on one scheduler.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"hpc-batch/pkg/backend"
	"hpc-batch/pkg/batchtemplate"
	"hpc-batch/pkg/imagebuilder"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/shell"
	"hpc-batch/pkg/statuscache"
	"hpc-batch/pkg/submission"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/afero"
)

// Orchestrator defines the interface for submitting and driving jobs on a cluster.
type Orchestrator interface {
	// Submit enqueues a single command.
	Submit(spec submission.Spec) (*backend.Job, error)
	// SubmitMulti enqueues several commands sharing one allocation.
	SubmitMulti(specs []submission.Spec) (*backend.Job, error)
	// Run starts and polls the enqueued jobs until they are all done.
	Run(ctx context.Context, opts RunOptions) error
	// Report summarises every job.
	Report() []backend.Report
}

var _ Orchestrator = (*Executor)(nil)

// Options configures an Executor. Only Cluster, Folder and the required
// resources have no default.
type Options struct {
	Cluster   string
	Folder    string
	Resources backend.ResourceSpec

	// TemplateDir overlays the embedded templates. Ignored when Templates is set.
	TemplateDir string
	Templates   *batchtemplate.Set

	Fs     afero.Fs
	Runner shell.Runner
	// Delay is the status cache refresh window and the loop interval.
	Delay time.Duration
	// MarkerTimeout bounds the wait for the task markers of a finished
	// multi-task allocation. Zero selects backend.DefaultMarkerTimeout and a
	// negative value waits forever.
	MarkerTimeout time.Duration
	Registry      metrics.Registry
	Clock         func() time.Time
	// Sleep blocks between loop iterations. It must return early with the
	// context error when ctx is cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor owns the jobs of one scheduler and the status cache they share.
type Executor struct {
	env     *backend.Environment
	counter int
	jobs    []*backend.Job

	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	runStart time.Time

	submitted     metrics.Counter
	started       metrics.Counter
	startFailures metrics.Counter
	running       metrics.Gauge
	waiting       metrics.Gauge
}

// New validates the options and builds an executor.
func New(opts Options) (*Executor, error) {
	d, err := backend.Lookup(opts.Cluster)
	if err != nil {
		return nil, err
	}
	if err := opts.Resources.Validate(); err != nil {
		return nil, err
	}
	if opts.Resources.Strategy != "" && !d.MultiTask && opts.Resources.Strategy != backend.Bulk {
		logging.Warn("Strategy %s is ignored by %s", opts.Resources.Strategy, d.Kind)
	}

	templates := opts.Templates
	if templates == nil {
		if templates, err = batchtemplate.Load(opts.TemplateDir); err != nil {
			return nil, err
		}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Runner == nil {
		opts.Runner = shell.OSRunner{}
	}
	if opts.Delay <= 0 {
		opts.Delay = statuscache.DefaultDelay
	}
	switch {
	case opts.MarkerTimeout == 0:
		opts.MarkerTimeout = backend.DefaultMarkerTimeout
	case opts.MarkerTimeout < 0:
		opts.MarkerTimeout = 0
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Folder == "" {
		opts.Folder = "."
	}
	if opts.Resources.Hub == "" {
		opts.Resources.Hub = backend.DefaultHub
	}

	env := &backend.Environment{
		Descriptor:    d,
		Resources:     opts.Resources,
		Templates:     templates,
		Fs:            opts.Fs,
		Runner:        opts.Runner,
		Cache:         statuscache.New(opts.Runner, d.Query, opts.Delay, statuscache.WithClock(opts.Clock), statuscache.WithRegistry(opts.Registry)),
		Folder:        opts.Folder,
		MarkerTimeout: opts.MarkerTimeout,
		Now:           opts.Clock,
	}
	if d.Vendor {
		env.Stager = imagebuilder.NewStager(opts.Runner, opts.Fs, opts.Resources.Hub)
	}
	logging.Debug("Executor for %s in %s using %s", d.Kind, opts.Folder, templates)

	return &Executor{
		env:           env,
		now:           opts.Clock,
		sleep:         opts.Sleep,
		submitted:     metrics.GetOrRegisterCounter("jobs.submitted", opts.Registry),
		started:       metrics.GetOrRegisterCounter("jobs.started", opts.Registry),
		startFailures: metrics.GetOrRegisterCounter("jobs.start_failures", opts.Registry),
		running:       metrics.GetOrRegisterGauge("jobs.running", opts.Registry),
		waiting:       metrics.GetOrRegisterGauge("jobs.waiting", opts.Registry),
	}, nil
}

// Kind returns the scheduler kind of the executor.
func (e *Executor) Kind() backend.Kind { return e.env.Descriptor.Kind }

// Cache returns the status cache shared by the jobs.
func (e *Executor) Cache() *statuscache.Cache { return e.env.Cache }

// Submit enqueues spec as a new single-task job.
func (e *Executor) Submit(spec submission.Spec) (*backend.Job, error) {
	e.counter++
	j := backend.NewJob(e.env, e.counter, spec)
	e.add(j)
	return j, nil
}

// SubmitMulti enqueues specs as one multi-task job. Only backends able to
// fan out accept it.
func (e *Executor) SubmitMulti(specs []submission.Spec) (*backend.Job, error) {
	j, err := backend.NewMultiJob(e.env, e.counter+1, specs)
	if err != nil {
		return nil, err
	}
	e.counter++
	e.add(j)
	return j, nil
}

func (e *Executor) add(j *backend.Job) {
	e.jobs = append(e.jobs, j)
	e.submitted.Inc(1)
	logging.Debug("Enqueued job %d (%d commands)", j.ID, len(j.Specs()))
}

// Jobs returns the jobs in submission order.
func (e *Executor) Jobs() []*backend.Job {
	return append([]*backend.Job(nil), e.jobs...)
}

// Job returns the job with the given id.
func (e *Executor) Job(id int) (*backend.Job, bool) {
	for _, j := range e.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// NJobs is the number of submitted jobs.
func (e *Executor) NJobs() int { return len(e.jobs) }

// NDone is the number of jobs settled to DONE or FAILED.
func (e *Executor) NDone() int {
	n := 0
	for _, j := range e.jobs {
		if j.State().IsTerminal() {
			n++
		}
	}
	return n
}

// NRunning is the number of started jobs not yet done.
func (e *Executor) NRunning() int {
	n := 0
	for _, j := range e.jobs {
		if j.State() == backend.Running {
			n++
		}
	}
	return n
}

// NWaiting is the number of jobs not started yet.
func (e *Executor) NWaiting() int {
	n := 0
	for _, j := range e.jobs {
		if j.State() == backend.NotStarted {
			n++
		}
	}
	return n
}

// Generate writes the batch artifacts of every job without submitting.
func (e *Executor) Generate() error {
	for _, j := range e.jobs {
		if err := j.GenerateBatch(); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops a started job on the scheduler.
func (e *Executor) Cancel(ctx context.Context, id int) error {
	j, ok := e.Job(id)
	if !ok {
		return joberrors.Configurationf("unknown job %d", id)
	}
	return j.Stop(ctx)
}

// CancelAll stops every running job and returns the joined stop errors.
func (e *Executor) CancelAll(ctx context.Context) error {
	var errs []error
	for _, j := range e.jobs {
		if j.State() != backend.Running {
			continue
		}
		if err := j.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Report summarises every job in submission order.
func (e *Executor) Report() []backend.Report {
	reports := make([]backend.Report, len(e.jobs))
	for i, j := range e.jobs {
		reports[i] = j.Report()
	}
	return reports
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
