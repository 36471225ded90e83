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

// Package shell runs external commands and captures their output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"hpc-batch/pkg/logging"
)

// CommandResult holds the outcome of a finished command.
// Err is set only when the process could not be run at all (binary missing,
// context cancelled); a non-zero exit is reported through ExitCode.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Failed reports whether the command did not run or exited non-zero.
func (r CommandResult) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Runner abstracts command execution so schedulers can be faked in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) CommandResult
}

// OSRunner runs commands on the local machine.
type OSRunner struct{}

// Run implements Runner.
func (OSRunner) Run(ctx context.Context, name string, args ...string) CommandResult {
	return NewCommand(name, args...).ExecuteContext(ctx)
}

// Command is an external command line.
type Command struct {
	name string
	args []string
}

// NewCommand creates a command. When no args are given and name contains
// spaces, name is split into fields.
func NewCommand(name string, args ...string) *Command {
	if len(args) == 0 && strings.Contains(name, " ") {
		fields := strings.Fields(name)
		name, args = fields[0], fields[1:]
	}
	return &Command{name: name, args: args}
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// ExecuteContext runs the command to completion or until ctx is done.
func (c *Command) ExecuteContext(ctx context.Context) CommandResult {
	logging.Debug("Executing: %s", c)
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}
