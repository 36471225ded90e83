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
	"math"
	"strings"

	"hpc-batch/pkg/batchtemplate"
	"hpc-batch/pkg/joberrors"
)

// Strategy selects how the vendor backend runs several commands in one
// allocation.
type Strategy string

const (
	// Bulk hands a task list to the scheduler, one worker per task.
	Bulk Strategy = "bulk"
	// Pool runs the tasks through a local pool of NCPUs workers.
	Pool Strategy = "pool"
	// Oneshot runs the tasks one after another in a single container.
	Oneshot Strategy = "oneshot"
)

// Strategies lists the supported fan-out strategies.
func Strategies() []string {
	return []string{string(Bulk), string(Oneshot), string(Pool)}
}

// ParseStrategy validates a strategy name. An empty name selects Bulk.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", Bulk:
		return Bulk, nil
	case Pool:
		return Pool, nil
	case Oneshot:
		return Oneshot, nil
	}
	return "", joberrors.Configurationf("invalid multi-task strategy %q%s", s, suggest(s, Strategies()))
}

// ResourceSpec is the per-executor resource request baked into every batch
// script.
type ResourceSpec struct {
	Name  string
	Queue string
	// Memory in GB.
	Memory float64
	// Walltime in hours.
	Walltime int
	NCPUs    int
	NGPUs    int
	// NMultiCPUs is the number of cores reserved per bulk task.
	NMultiCPUs int
	Modules    []string
	// Image is an image path, archive or name understood by the container runtime.
	Image     string
	ProjectID string
	Strategy  Strategy
	// Hub is the vendor image registry.
	Hub string
}

// DefaultResourceSpec returns the defaults. Queue and Image have none.
func DefaultResourceSpec() ResourceSpec {
	return ResourceSpec{
		Name:       "hpc-batch",
		Memory:     2,
		Walltime:   72,
		NCPUs:      1,
		NGPUs:      0,
		NMultiCPUs: 1,
		Strategy:   Bulk,
		Hub:        DefaultHub,
	}
}

// Validate checks the required fields and bounds.
func (r ResourceSpec) Validate() error {
	switch {
	case r.Queue == "":
		return joberrors.Configurationf("a queue is required")
	case r.Image == "":
		return joberrors.Configurationf("an image is required")
	case r.Memory <= 0:
		return joberrors.Configurationf("memory must be positive, got %g", r.Memory)
	case r.Walltime <= 0:
		return joberrors.Configurationf("walltime must be positive, got %d", r.Walltime)
	case r.NCPUs < 1:
		return joberrors.Configurationf("ncpus must be at least 1, got %d", r.NCPUs)
	case r.NGPUs < 0:
		return joberrors.Configurationf("ngpus must not be negative, got %d", r.NGPUs)
	case r.NMultiCPUs < 1:
		return joberrors.Configurationf("nmulticpus must be at least 1, got %d", r.NMultiCPUs)
	}
	_, err := ParseStrategy(string(r.Strategy))
	return err
}

// fields converts the resources to template fields in the units the
// scheduler expects: whole megabytes, so fractional GB requests stay valid
// for sbatch and qsub. image is the runtime image reference.
func (r ResourceSpec) fields(d Descriptor, image string) batchtemplate.Fields {
	f := batchtemplate.Fields{
		Name:       r.Name,
		Queue:      r.Queue,
		Memory:     int(math.Round(r.Memory * 1024)),
		Walltime:   r.Walltime,
		NCPUs:      r.NCPUs,
		NGPUs:      r.NGPUs,
		NMultiCPUs: r.NMultiCPUs,
		Modules:    strings.Join(r.Modules, " "),
		Image:      image,
		ProjectID:  r.ProjectID,
	}
	if d.Vendor {
		// ccc_msub takes seconds and decimal megabytes.
		f.Walltime *= 3600
		f.Memory = int(math.Round(r.Memory * 1000))
		f.Modules = ""
		if len(r.Modules) > 0 {
			f.Modules = "module load " + strings.Join(r.Modules, ",")
		}
	}
	return f
}
