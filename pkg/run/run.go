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

package run

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"hpc-batch/pkg/backend"
	"hpc-batch/pkg/config"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/orchestrator"
	"hpc-batch/pkg/shell"
	"hpc-batch/pkg/submission"

	cp "github.com/otiai10/copy"
	"github.com/spf13/afero"
)

// ReportFile is written into the working folder at the end of a run.
const ReportFile = "report.txt"

// SnapshotDir receives a copy of the experiment inputs.
const SnapshotDir = "experiment"

// RunOptions holds all the necessary parameters for the 'run' command logic
type RunOptions struct {
	ConfigPath string
	// MaxJobs bounds the jobs running at once.
	MaxJobs int
	// DryRun and Verbose are OR-ed with the experiment settings.
	DryRun  bool
	Verbose bool
	// TemplateDir overrides the experiment template directory when set.
	TemplateDir string

	// Runner and Sleep replace the subprocess runner and the loop sleep.
	Runner shell.Runner
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Result is what a run leaves behind.
type Result struct {
	Executor   *orchestrator.Executor
	Experiment *config.Experiment
	ReportPath string
}

// ExecuteRun loads the experiment, submits its commands, drives them to
// completion and writes the report into the working folder.
func ExecuteRun(ctx context.Context, opts RunOptions) (*Result, error) {
	logging.Info("Starting hpc-batch run workflow...")

	exp, e, err := prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	folder := exp.Environment.Folder
	if err := snapshot(exp, folder); err != nil {
		return nil, err
	}

	runOpts := orchestrator.RunOptions{
		MaxJobs: opts.MaxJobs,
		DryRun:  exp.Config.DryRun || opts.DryRun,
		Delay:   exp.Config.Delay(),
		Verbose: exp.Config.Verbose || opts.Verbose,
	}
	if runOpts.Verbose {
		logging.SetVerbose(true)
	}
	runErr := e.Run(ctx, runOpts)

	// The report is written even when the loop stopped early.
	reportPath := filepath.Join(folder, ReportFile)
	if err := writeReport(afero.NewOsFs(), reportPath, e); err != nil {
		return nil, err
	}
	logging.Info("Report written to %s", reportPath)
	if runErr != nil {
		return nil, runErr
	}
	logging.Info("hpc-batch run workflow completed.")
	return &Result{Executor: e, Experiment: exp, ReportPath: reportPath}, nil
}

// ExecuteGenerate writes the batch artifacts of every job of the experiment
// without submitting anything.
func ExecuteGenerate(opts RunOptions) (*orchestrator.Executor, error) {
	exp, e, err := prepare(context.Background(), opts)
	if err != nil {
		return nil, err
	}
	if err := e.Generate(); err != nil {
		return nil, err
	}
	logging.Info("Generated %d jobs in %s", e.NJobs(), exp.Environment.Folder)
	return e, nil
}

// CancelJobs issues the stop command of cluster for every scheduler id.
func CancelJobs(ctx context.Context, runner shell.Runner, cluster string, ids []string) error {
	d, err := backend.Lookup(cluster)
	if err != nil {
		return err
	}
	if runner == nil {
		runner = shell.OSRunner{}
	}
	var failed []string
	for _, id := range ids {
		if !d.IDPattern.MatchString(id) {
			return joberrors.Configurationf("%q is not a %s job id", id, d.Kind)
		}
		res := runner.Run(ctx, d.StopCommand, id)
		if res.Failed() {
			logging.Error("%s %s exited %d: %s", d.StopCommand, id, res.ExitCode, strings.TrimSpace(res.Stderr))
			failed = append(failed, id)
			continue
		}
		logging.Info("Stopped %s job %s", d.Kind, id)
	}
	if len(failed) > 0 {
		return joberrors.Submissionf("failed to stop %s", strings.Join(failed, ", "))
	}
	return nil
}

// prepare loads the experiment, fetches its remote sources into the working
// folder and enqueues its commands on a new executor.
func prepare(ctx context.Context, opts RunOptions) (*config.Experiment, *orchestrator.Executor, error) {
	fsys := afero.NewOsFs()
	exp, err := config.Load(fsys, opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.TemplateDir != "" {
		exp.Environment.TemplateDir = opts.TemplateDir
	}
	if err := exp.Fetch(ctx, filepath.Join(exp.Environment.Folder, config.SourcesDir)); err != nil {
		return nil, nil, err
	}
	env := exp.Environment
	e, err := orchestrator.New(orchestrator.Options{
		Cluster:       env.Cluster,
		Folder:        env.Folder,
		Resources:     env.Resources(),
		TemplateDir:   env.TemplateDir,
		Fs:            fsys,
		Runner:        opts.Runner,
		Delay:         exp.Config.Delay(),
		MarkerTimeout: env.MarkerTimeout(),
		Sleep:         opts.Sleep,
	})
	if err != nil {
		return nil, nil, err
	}

	commands, err := exp.Commands(fsys)
	if err != nil {
		return nil, nil, err
	}
	if err := submitAll(e, exp, commands); err != nil {
		return nil, nil, err
	}
	return exp, e, nil
}

// submitAll enqueues one job per command, or one multi-task job per chunk
// when the experiment has a multi section.
func submitAll(o orchestrator.Orchestrator, exp *config.Experiment, commands []string) error {
	params := exp.Inputs.Parameters
	build := func(cmd string) (submission.Spec, error) {
		return submission.Build(cmd, nil, nil, params)
	}

	if chunks := exp.Chunks(commands); chunks != nil {
		for i, chunk := range chunks {
			specs := make([]submission.Spec, len(chunk))
			for k, cmd := range chunk {
				spec, err := build(cmd)
				if err != nil {
					return fmt.Errorf("chunk %d command %d: %w", i, k, err)
				}
				specs[k] = spec
			}
			if _, err := o.SubmitMulti(specs); err != nil {
				return err
			}
		}
		logging.Info("Submitted %d commands as %d multi-task jobs", len(commands), len(chunks))
		return nil
	}

	for i, cmd := range commands {
		spec, err := build(cmd)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		if _, err := o.Submit(spec); err != nil {
			return err
		}
	}
	logging.Info("Submitted %d jobs", len(commands))
	return nil
}

// snapshot copies the experiment file and its data next to the jobs.
func snapshot(exp *config.Experiment, folder string) error {
	dst := filepath.Join(folder, SnapshotDir)
	sources := []string{exp.Path}
	if exp.Inputs.Data != "" {
		sources = append(sources, exp.Inputs.Data)
	}
	for _, src := range sources {
		target := filepath.Join(dst, filepath.Base(src))
		if err := cp.Copy(src, target); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", src, target, err)
		}
	}
	return nil
}

func writeReport(fsys afero.Fs, path string, e *orchestrator.Executor) error {
	var b strings.Builder
	for _, r := range e.Report() {
		b.WriteString(r.String())
		b.WriteString("\n")
	}
	b.WriteString(e.Status())
	b.WriteString("\n")
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fsys, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}
