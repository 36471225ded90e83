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

// Package config reads experiment files: the commands to run, the cluster
// environment they run on and the options of the run loop.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"hpc-batch/pkg/backend"
	"hpc-batch/pkg/joberrors"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Experiment is the content of an experiment file.
type Experiment struct {
	Project     Project     `yaml:"project"`
	Inputs      Inputs      `yaml:"inputs"`
	Environment Environment `yaml:"environment"`
	Config      RunConfig   `yaml:"config"`
	Multi       *Multi      `yaml:"multi,omitempty"`

	// Path is the file the experiment was read from.
	Path string `yaml:"-"`
}

// Project describes who runs what.
type Project struct {
	Name     string `yaml:"name"`
	Operator string `yaml:"operator"`
	Date     string `yaml:"date"`
}

// Inputs lists the commands to run.
type Inputs struct {
	Commands Commands `yaml:"commands"`
	// Data is a TSV file filling the placeholders of a command template.
	Data string `yaml:"data,omitempty"`
	// Parameters are passed to the container runtime of every command.
	Parameters string `yaml:"parameters,omitempty"`
}

// Commands is either an explicit list or a template expanded once per row
// of the data file.
type Commands struct {
	List     []string
	Template string
}

// UnmarshalYAML accepts a string or a list of strings.
func (c *Commands) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&c.Template)
	case yaml.SequenceNode:
		return node.Decode(&c.List)
	}
	return fmt.Errorf("line %d: commands must be a string or a list of strings", node.Line)
}

// MarshalYAML writes the commands back in the form they were read.
func (c Commands) MarshalYAML() (any, error) {
	if c.Template != "" {
		return c.Template, nil
	}
	return c.List, nil
}

// Environment selects the scheduler and the resources of every job. Zero
// values fall back to backend.DefaultResourceSpec.
type Environment struct {
	Cluster     string   `yaml:"cluster"`
	Folder      string   `yaml:"folder"`
	Name        string   `yaml:"name,omitempty"`
	Queue       string   `yaml:"queue"`
	Memory      float64  `yaml:"memory,omitempty"`
	Walltime    int      `yaml:"walltime,omitempty"`
	NCPUs       int      `yaml:"n_cpus,omitempty"`
	NGPUs       int      `yaml:"n_gpus,omitempty"`
	NMultiCPUs  int      `yaml:"n_multi_cpus,omitempty"`
	Modules     []string `yaml:"modules,omitempty"`
	Image       string   `yaml:"image"`
	ProjectID   string   `yaml:"project_id,omitempty"`
	Strategy    string   `yaml:"strategy,omitempty"`
	Hub         string   `yaml:"hub,omitempty"`
	TemplateDir string   `yaml:"template_dir,omitempty"`
	// MarkerTimeoutS bounds the wait for missing task markers, in seconds.
	// Unset selects the executor default and a negative value waits forever.
	MarkerTimeoutS int `yaml:"marker_timeout_s,omitempty"`
}

// RunConfig holds the options of the run loop.
type RunConfig struct {
	DryRun  bool `yaml:"dryrun"`
	DelayS  int  `yaml:"delay_s,omitempty"`
	Verbose bool `yaml:"verbose"`
}

// Multi groups the commands into multi-task jobs.
type Multi struct {
	NSplits int `yaml:"n_splits"`
}

// Load reads and validates an experiment file.
func Load(fsys afero.Fs, path string) (*Experiment, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, joberrors.Configurationf("failed to read experiment %s: %v", path, err)
	}
	exp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	exp.Path = path
	if d := exp.Inputs.Data; d != "" && !IsRemote(d) && !filepath.IsAbs(d) {
		exp.Inputs.Data = filepath.Join(filepath.Dir(path), exp.Inputs.Data)
	}
	return exp, nil
}

// Parse decodes and validates an experiment. Unknown keys are rejected.
func Parse(data []byte) (*Experiment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	exp := &Experiment{}
	if err := dec.Decode(exp); err != nil {
		return nil, joberrors.Configurationf("invalid experiment: %v", err)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// Validate checks the sections needed to run.
func (e *Experiment) Validate() error {
	switch {
	case e.Environment.Cluster == "":
		return joberrors.Configurationf("environment.cluster is required")
	case e.Environment.Folder == "":
		return joberrors.Configurationf("environment.folder is required")
	case len(e.Inputs.Commands.List) == 0 && e.Inputs.Commands.Template == "":
		return joberrors.Configurationf("inputs.commands is required")
	case e.Inputs.Commands.Template != "" && e.Inputs.Data == "":
		return joberrors.Configurationf("inputs.data is required to expand a command template")
	case e.Multi != nil && e.Multi.NSplits < 1:
		return joberrors.Configurationf("multi.n_splits must be at least 1, got %d", e.Multi.NSplits)
	case e.Config.DelayS < 0:
		return joberrors.Configurationf("config.delay_s must not be negative")
	}
	if _, err := backend.Lookup(e.Environment.Cluster); err != nil {
		return err
	}
	return e.Environment.Resources().Validate()
}

// Resources returns the resource request of the environment.
func (env Environment) Resources() backend.ResourceSpec {
	r := backend.DefaultResourceSpec()
	r.Queue = env.Queue
	r.Image = env.Image
	r.ProjectID = env.ProjectID
	r.Modules = env.Modules
	r.NGPUs = env.NGPUs
	if env.Name != "" {
		r.Name = env.Name
	}
	if env.Memory != 0 {
		r.Memory = env.Memory
	}
	if env.Walltime != 0 {
		r.Walltime = env.Walltime
	}
	if env.NCPUs != 0 {
		r.NCPUs = env.NCPUs
	}
	if env.NMultiCPUs != 0 {
		r.NMultiCPUs = env.NMultiCPUs
	}
	if env.Strategy != "" {
		r.Strategy = backend.Strategy(env.Strategy)
	}
	if env.Hub != "" {
		r.Hub = env.Hub
	}
	return r
}

// MarkerTimeout returns the marker wait bound, zero when unset.
func (env Environment) MarkerTimeout() time.Duration {
	return time.Duration(env.MarkerTimeoutS) * time.Second
}

// Delay returns the refresh delay, zero when unset.
func (c RunConfig) Delay() time.Duration {
	return time.Duration(c.DelayS) * time.Second
}

// Commands returns the commands of the experiment, expanding the template
// against the data file when needed.
func (e *Experiment) Commands(fsys afero.Fs) ([]string, error) {
	if e.Inputs.Commands.Template == "" {
		return append([]string(nil), e.Inputs.Commands.List...), nil
	}
	rows, err := ReadTSV(fsys, e.Inputs.Data)
	if err != nil {
		return nil, err
	}
	return Expand(e.Inputs.Commands.Template, rows)
}

// Chunks groups commands according to the multi section. It returns nil
// when the experiment runs one job per command.
func (e *Experiment) Chunks(commands []string) [][]string {
	if e.Multi == nil {
		return nil
	}
	return Split(commands, e.Multi.NSplits)
}

// Split cuts items into n contiguous groups whose sizes differ by at most
// one, the first len(items)%n groups being the larger ones. Empty groups are
// dropped.
func Split[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	size, extra := len(items)/n, len(items)%n
	var chunks [][]T
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		if end > start {
			chunks = append(chunks, items[start:end:end])
		}
		start = end
	}
	return chunks
}
