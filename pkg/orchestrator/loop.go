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

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hpc-batch/pkg/backend"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/logging"
)

// RunOptions holds the parameters of one admission loop.
type RunOptions struct {
	// MaxJobs bounds the number of jobs running at once. Values below one
	// are treated as one.
	MaxJobs int
	// DryRun writes the artifacts without submitting anything.
	DryRun bool
	// Delay overrides the refresh window and loop interval when positive.
	Delay time.Duration
	// Verbose logs the executor status at every iteration.
	Verbose bool
}

// Run starts the waiting jobs in submission order, never keeping more than
// MaxJobs running, and polls the status cache every delay until no job is
// waiting and every started job is done.
//
// A job that fails to start aborts the loop; it stays NOT_STARTED and the
// error is returned. Cancelling ctx stops the loop between iterations
// without touching the jobs already on the scheduler.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if opts.MaxJobs < 1 {
		opts.MaxJobs = 1
	}
	cache := e.env.Cache
	if opts.Delay > 0 {
		cache.SetDelay(opts.Delay)
	}
	delay := cache.Delay()
	e.runStart = e.now()
	logging.Info("Running %d jobs on %s, at most %d at once", e.NJobs(), e.Kind(), opts.MaxJobs)

	for {
		if _, err := cache.Update(ctx, false); err != nil {
			if !joberrors.IsTransient(err) {
				return err
			}
			logging.Warn("Status refresh failed, keeping previous states: %v", err)
		}
		running := e.refresh()
		if err := e.admit(ctx, opts, running); err != nil {
			return err
		}
		if opts.Verbose {
			logging.Info("%s", e.Status())
		}
		if e.NWaiting() == 0 && e.NRunning() == 0 {
			break
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if _, err := cache.Update(ctx, true); err != nil {
		logging.Warn("Final status refresh failed: %v", err)
	}
	e.refresh()
	logging.Info("All %d jobs done (%d failed)", e.NJobs(), e.nFailed())
	return nil
}

// refresh settles the finished jobs and returns the number still running.
func (e *Executor) refresh() int {
	running := 0
	for _, j := range e.jobs {
		if j.State() == backend.Running && !j.Done() {
			running++
		}
	}
	e.running.Update(int64(running))
	e.waiting.Update(int64(e.NWaiting()))
	return running
}

// admit starts min(waiting, max-running) jobs, earliest first.
func (e *Executor) admit(ctx context.Context, opts RunOptions, running int) error {
	slots := opts.MaxJobs - running
	for _, j := range e.jobs {
		if slots <= 0 {
			break
		}
		if j.State() != backend.NotStarted {
			continue
		}
		if err := j.Start(ctx, opts.DryRun); err != nil {
			e.startFailures.Inc(1)
			return fmt.Errorf("failed to start job %d: %w", j.ID, err)
		}
		e.started.Inc(1)
		slots--
	}
	e.running.Update(int64(e.NRunning()))
	e.waiting.Update(int64(e.NWaiting()))
	return nil
}

func (e *Executor) nFailed() int {
	n := 0
	for _, j := range e.jobs {
		if j.State() == backend.Failed {
			n++
		}
	}
	return n
}

// Status describes the progress of the executor.
func (e *Executor) Status() string {
	elapsed := time.Duration(0)
	if !e.runStart.IsZero() {
		elapsed = e.now().Sub(e.runStart).Truncate(time.Second)
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("-", 40))
	fmt.Fprintf(&b, "\nExecutor<time=%s>", elapsed)
	fmt.Fprintf(&b, "\n- jobs: %d", e.NJobs())
	fmt.Fprintf(&b, "\n- done: %d", e.NDone())
	fmt.Fprintf(&b, "\n- running: %d", e.NRunning())
	fmt.Fprintf(&b, "\n- waiting: %d", e.NWaiting())
	return b.String()
}
