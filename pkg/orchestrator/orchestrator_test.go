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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"hpc-batch/pkg/backend"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/shell"
	"hpc-batch/pkg/submission"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/afero"
)

// simCluster is a scheduler keeping every submitted job alive until the
// test finishes it.
type simCluster struct {
	next       int
	alive      map[string]bool
	ids        []string
	scripts    []string
	stopped    []string
	queries    int
	failSubmit bool
	failQuery  bool
}

func newSimCluster() *simCluster {
	return &simCluster{alive: map[string]bool{}}
}

func (c *simCluster) Run(_ context.Context, name string, args ...string) shell.CommandResult {
	switch name {
	case "sbatch", "ccc_msub":
		if c.failSubmit {
			return shell.CommandResult{ExitCode: 1, Stderr: "error: invalid partition"}
		}
		c.next++
		id := strconv.Itoa(100 + c.next)
		c.alive[id] = true
		c.ids = append(c.ids, id)
		c.scripts = append(c.scripts, args[0])
		return shell.CommandResult{Stdout: "Submitted batch job " + id + "\n"}
	case "squeue":
		c.queries++
		if c.failQuery {
			return shell.CommandResult{ExitCode: 1, Stderr: "slurm_load_jobs error: Socket timed out"}
		}
		var records []string
		for _, id := range c.ids {
			if c.alive[id] {
				records = append(records, fmt.Sprintf(`{"job_id":%s,"job_state":"RUNNING"}`, id))
			}
		}
		return shell.CommandResult{Stdout: `{"jobs":[` + strings.Join(records, ",") + `]}`}
	case "scancel", "ccc_mqdel":
		c.stopped = append(c.stopped, args[0])
		delete(c.alive, args[0])
	}
	return shell.CommandResult{}
}

func (c *simCluster) finishOldest() {
	for _, id := range c.ids {
		if c.alive[id] {
			delete(c.alive, id)
			return
		}
	}
}

func (c *simCluster) submitCalls() int { return len(c.scripts) }

type harness struct {
	cluster  *simCluster
	fs       afero.Fs
	now      time.Time
	registry metrics.Registry
	// onSleep runs at every loop sleep.
	onSleep func(e *Executor)
	sleeps  int
}

func newHarness(t *testing.T, cluster string, mutate func(*Options)) (*Executor, *harness) {
	t.Helper()
	h := &harness{
		cluster:  newSimCluster(),
		fs:       afero.NewMemMapFs(),
		now:      time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		registry: metrics.NewRegistry(),
	}
	res := backend.DefaultResourceSpec()
	res.Queue = "normal"
	res.Image = "/images/tools.simg"
	var e *Executor
	opts := Options{
		Cluster:   cluster,
		Folder:    "/work",
		Resources: res,
		Fs:        h.fs,
		Runner:    h.cluster,
		Delay:     10 * time.Second,
		Registry:  h.registry,
		Clock:     func() time.Time { return h.now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps++
			if h.onSleep != nil {
				h.onSleep(e)
			}
			h.now = h.now.Add(d)
			return ctx.Err()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return e, h
}

func submitSleeps(t *testing.T, e *Executor, n int) []*backend.Job {
	t.Helper()
	jobs := make([]*backend.Job, n)
	for i := range jobs {
		j, err := e.Submit(submission.MustBuild("sleep", i))
		if err != nil {
			t.Fatal(err)
		}
		jobs[i] = j
	}
	return jobs
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantMsg string
	}{
		{name: "unknown cluster", mutate: func(o *Options) { o.Cluster = "slurmm" }, wantMsg: `did you mean "slurm"`},
		{name: "no queue", mutate: func(o *Options) { o.Resources.Queue = "" }, wantMsg: "queue"},
		{name: "bad strategy", mutate: func(o *Options) { o.Resources.Strategy = "bulky" }, wantMsg: `did you mean "bulk"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := backend.DefaultResourceSpec()
			res.Queue, res.Image = "normal", "img"
			opts := Options{Cluster: "slurm", Resources: res, Fs: afero.NewMemMapFs()}
			tt.mutate(&opts)
			_, err := New(opts)
			if !errors.Is(err, joberrors.ErrConfiguration) {
				t.Fatalf("New() error = %v, want configuration error", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRunAdmitsAtMostMaxJobs(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	var runningAtSleep, submittedAtSleep []int
	h.onSleep = func(e *Executor) {
		runningAtSleep = append(runningAtSleep, e.NRunning())
		submittedAtSleep = append(submittedAtSleep, h.cluster.submitCalls())
		h.cluster.finishOldest()
	}
	jobs := submitSleeps(t, e, 5)

	if err := e.Run(context.Background(), RunOptions{MaxJobs: 2}); err != nil {
		t.Fatal(err)
	}

	// Two start at once, then one more per poll that observes a completion.
	if diff := cmp.Diff([]int{2, 3, 4, 5, 5}, submittedAtSleep); diff != "" {
		t.Errorf("submissions per iteration mismatch (-want +got):\n%s", diff)
	}
	for i, n := range runningAtSleep {
		if n > 2 {
			t.Errorf("iteration %d: %d jobs running, limit is 2", i, n)
		}
	}
	want := []string{
		"/work/job_1/submit.sh",
		"/work/job_2/submit.sh",
		"/work/job_3/submit.sh",
		"/work/job_4/submit.sh",
		"/work/job_5/submit.sh",
	}
	if diff := cmp.Diff(want, h.cluster.scripts); diff != "" {
		t.Errorf("submission order mismatch (-want +got):\n%s", diff)
	}
	for _, j := range jobs {
		if j.State() != backend.Done {
			t.Errorf("job %d state = %s", j.ID, j.State())
		}
	}
	if e.NDone() != 5 || e.NRunning() != 0 || e.NWaiting() != 0 {
		t.Errorf("counters: done=%d running=%d waiting=%d", e.NDone(), e.NRunning(), e.NWaiting())
	}
	if got := metrics.GetOrRegisterCounter("jobs.started", h.registry).Count(); got != 5 {
		t.Errorf("jobs.started = %d, want 5", got)
	}
	// One status query per iteration with active ids, never one per job.
	if h.cluster.queries != 5 {
		t.Errorf("got %d status queries, want 5", h.cluster.queries)
	}
	status := e.Status()
	for _, want := range []string{"Executor<time=50s>", "- jobs: 5", "- done: 5", "- running: 0", "- waiting: 0"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
}

func TestRunSurvivesStatusQueryFailure(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	h.onSleep = func(*Executor) {
		// The second refresh fails; everything finishes meanwhile.
		h.cluster.failQuery = h.sleeps == 1
		h.cluster.finishOldest()
		h.cluster.finishOldest()
	}
	submitSleeps(t, e, 2)
	if err := e.Run(context.Background(), RunOptions{MaxJobs: 2}); err != nil {
		t.Fatal(err)
	}
	if e.NDone() != 2 {
		t.Errorf("done = %d, want 2", e.NDone())
	}
	if got := metrics.GetOrRegisterCounter("statuscache.query_failures", h.registry).Count(); got != 1 {
		t.Errorf("query failures = %d, want 1", got)
	}
}

func TestRunStopsOnStartFailure(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	h.cluster.failSubmit = true
	jobs := submitSleeps(t, e, 3)
	err := e.Run(context.Background(), RunOptions{MaxJobs: 2})
	if !errors.Is(err, joberrors.ErrSubmission) {
		t.Fatalf("Run() error = %v, want submission error", err)
	}
	if jobs[0].State() != backend.NotStarted || e.NWaiting() != 3 {
		t.Errorf("state=%s waiting=%d", jobs[0].State(), e.NWaiting())
	}
	if got := metrics.GetOrRegisterCounter("jobs.start_failures", h.registry).Count(); got != 1 {
		t.Errorf("jobs.start_failures = %d, want 1", got)
	}
}

func TestRunHonoursContext(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.onSleep = func(*Executor) { cancel() }
	submitSleeps(t, e, 3)
	if err := e.Run(ctx, RunOptions{MaxJobs: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(h.cluster.stopped) != 0 {
		t.Errorf("cancelling the loop stopped jobs %v", h.cluster.stopped)
	}
	if e.NRunning() != 1 || e.NWaiting() != 2 {
		t.Errorf("running=%d waiting=%d", e.NRunning(), e.NWaiting())
	}
}

func TestRunDryRun(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	jobs := submitSleeps(t, e, 3)
	if err := e.Run(context.Background(), RunOptions{MaxJobs: 1, DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if h.cluster.submitCalls() != 0 || h.cluster.queries != 0 {
		t.Errorf("dry run reached the scheduler: %d submissions, %d queries", h.cluster.submitCalls(), h.cluster.queries)
	}
	for _, j := range jobs {
		if !strings.HasPrefix(j.ClusterID(), backend.DryRunPrefix) || j.State() != backend.Done {
			t.Errorf("job %d: id=%s state=%s", j.ID, j.ClusterID(), j.State())
		}
		if ok, _ := afero.Exists(h.fs, j.Paths().Script); !ok {
			t.Errorf("job %d: no batch script", j.ID)
		}
	}
}

func TestRunMultiTaskOneshot(t *testing.T) {
	e, h := newHarness(t, "ccc", func(o *Options) {
		o.Resources.Image = "brainprep"
		o.Resources.Strategy = backend.Oneshot
	})
	specs := []submission.Spec{
		submission.MustBuild("prep", "sub-01"),
		submission.MustBuild("prep", "sub-02"),
		submission.MustBuild("prep", "sub-03"),
	}
	j, err := e.SubmitMulti(specs)
	if err != nil {
		t.Fatal(err)
	}
	h.onSleep = func(*Executor) {
		for i := range specs {
			_ = afero.WriteFile(h.fs, j.Paths().ExitCodeFile(i), []byte("0\n"), 0o644)
		}
		h.cluster.finishOldest()
	}
	if err := e.Run(context.Background(), RunOptions{MaxJobs: 4}); err != nil {
		t.Fatal(err)
	}
	if h.cluster.submitCalls() != 1 || j.State() != backend.Done {
		t.Errorf("submissions=%d state=%s", h.cluster.submitCalls(), j.State())
	}
	reports := e.Report()
	if len(reports) != 1 || reports[0].Tasks == nil || reports[0].Tasks.Total != 3 || reports[0].Tasks.Failed != 0 {
		t.Errorf("report = %+v", reports)
	}
}

func TestRunSettlesMultiTaskWithMissingMarkers(t *testing.T) {
	e, h := newHarness(t, "ccc", func(o *Options) {
		o.Resources.Image = "brainprep"
		o.Resources.Strategy = backend.Pool
	})
	start := h.now
	j, err := e.SubmitMulti([]submission.Spec{
		submission.MustBuild("prep", "sub-01"),
		submission.MustBuild("prep", "sub-02"),
	})
	if err != nil {
		t.Fatal(err)
	}
	h.onSleep = func(*Executor) {
		_ = afero.WriteFile(h.fs, j.Paths().ExitCodeFile(0), []byte("0\n"), 0o644)
		h.cluster.finishOldest()
	}
	if err := e.Run(context.Background(), RunOptions{MaxJobs: 1}); err != nil {
		t.Fatal(err)
	}
	if j.State() != backend.Failed {
		t.Errorf("state = %s, want FAILED", j.State())
	}
	if waited := h.now.Sub(start); waited < backend.DefaultMarkerTimeout {
		t.Errorf("settled after %s, before the default marker timeout", waited)
	}
	if r := j.Report(); r.Tasks.Finished != 1 || r.Tasks.Total != 2 {
		t.Errorf("report tasks = %+v", r.Tasks)
	}
}

func TestSubmitMultiRejectedBySingleTaskBackend(t *testing.T) {
	e, _ := newHarness(t, "slurm", nil)
	_, err := e.SubmitMulti([]submission.Spec{submission.MustBuild("a"), submission.MustBuild("b")})
	if !errors.Is(err, joberrors.ErrConfiguration) {
		t.Fatalf("SubmitMulti() error = %v, want configuration error", err)
	}
	if e.NJobs() != 0 {
		t.Errorf("rejected job was enqueued")
	}
	j, _ := e.Submit(submission.MustBuild("a"))
	if j.ID != 1 {
		t.Errorf("first accepted job got id %d", j.ID)
	}
}

func TestSubmitIDsStrictlyIncrease(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	res := backend.DefaultResourceSpec()
	res.Queue, res.Image = "normal", "brainprep"
	properties.Property("ids are strictly increasing and unique", prop.ForAll(
		func(sizes []int) bool {
			e, err := New(Options{Cluster: "ccc", Resources: res, Fs: afero.NewMemMapFs()})
			if err != nil {
				return false
			}
			last := 0
			for _, n := range sizes {
				var j *backend.Job
				switch n {
				case 0:
					// Empty collections are rejected.
					if _, err := e.SubmitMulti(nil); err == nil {
						return false
					}
					continue
				case 1:
					j, _ = e.Submit(submission.MustBuild("run"))
				default:
					specs := make([]submission.Spec, n)
					for i := range specs {
						specs[i] = submission.MustBuild("run", i)
					}
					if j, err = e.SubmitMulti(specs); err != nil {
						return false
					}
				}
				if j.ID <= last {
					return false
				}
				last = j.ID
			}
			return e.NJobs() == last
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

func TestCancel(t *testing.T) {
	e, h := newHarness(t, "slurm", nil)
	jobs := submitSleeps(t, e, 3)
	for _, j := range jobs[:2] {
		if err := j.Start(context.Background(), false); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Cancel(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(context.Background(), 42); !errors.Is(err, joberrors.ErrConfiguration) {
		t.Errorf("Cancel(unknown) error = %v", err)
	}
	if err := e.CancelAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Job 3 never started so only the running jobs are stopped.
	want := []string{"101", "101", "102"}
	if diff := cmp.Diff(want, h.cluster.stopped); diff != "" {
		t.Errorf("stop calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate(t *testing.T) {
	e, h := newHarness(t, "pbs", nil)
	jobs := submitSleeps(t, e, 2)
	if err := e.Generate(); err != nil {
		t.Fatal(err)
	}
	for _, j := range jobs {
		script, err := afero.ReadFile(h.fs, j.Paths().Script)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(script), "#PBS -q normal") {
			t.Errorf("job %d script:\n%s", j.ID, script)
		}
		if j.State() != backend.NotStarted {
			t.Errorf("Generate changed job %d state to %s", j.ID, j.State())
		}
	}
	if h.cluster.submitCalls() != 0 {
		t.Error("Generate submitted jobs")
	}
}
