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
	"regexp"
	"sort"
	"strings"

	"hpc-batch/pkg/batchtemplate"
	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/statuscache"

	"github.com/agext/levenshtein"
)

// Kind names a scheduler family.
type Kind string

const (
	Slurm Kind = "slurm"
	PBS   Kind = "pbs"
	CCC   Kind = "ccc"
)

// DefaultHub is the vendor image registry used when none is configured.
const DefaultHub = "n4h00001rs"

// Descriptor holds everything that differs between schedulers. Job code
// never branches on Kind, it reads the descriptor instead.
type Descriptor struct {
	Kind          Kind
	SubmitCommand string
	StopCommand   string
	Query         statuscache.Query
	IDPattern     *regexp.Regexp
	BatchTemplate string
	// MultiBatchTemplate is used by the bulk strategy.
	MultiBatchTemplate string
	// MultiTask reports whether several commands may share one allocation.
	MultiTask bool
	// Vendor enables the vendor parameter units, the pcocc container
	// runtime and image staging.
	Vendor bool
}

var digits = regexp.MustCompile(`^\d+$`)

var descriptors = map[Kind]Descriptor{
	Slurm: {
		Kind:          Slurm,
		SubmitCommand: "sbatch",
		StopCommand:   "scancel",
		Query: statuscache.Query{
			Command: "squeue",
			Args:    statuscache.SqueueArgs("--jobs="),
			Parse:   statuscache.ParseSqueue,
			Valid:   statuscache.ValidStates,
		},
		IDPattern:     digits,
		BatchTemplate: batchtemplate.SlurmBatch,
	},
	PBS: {
		Kind:          PBS,
		SubmitCommand: "qsub",
		StopCommand:   "qdel",
		Query: statuscache.Query{
			Command: "qstat",
			Args:    statuscache.QstatArgs,
			Parse:   statuscache.ParseQstat,
			Valid:   statuscache.ValidStates,
		},
		IDPattern:     regexp.MustCompile(`^\d+(\.[A-Za-z0-9_.-]+)?$`),
		BatchTemplate: batchtemplate.PbsBatch,
	},
	CCC: {
		Kind:          CCC,
		SubmitCommand: "ccc_msub",
		StopCommand:   "ccc_mqdel",
		Query: statuscache.Query{
			Command: "squeue",
			Args:    statuscache.SqueueArgs("-j"),
			Parse:   statuscache.ParseSqueue,
			Valid:   statuscache.ValidStates,
		},
		IDPattern:          digits,
		BatchTemplate:      batchtemplate.CCCBatch,
		MultiBatchTemplate: batchtemplate.CCCMultiBatch,
		MultiTask:          true,
		Vendor:             true,
	},
}

// Lookup returns the descriptor of a scheduler kind.
func Lookup(kind string) (Descriptor, error) {
	d, ok := descriptors[Kind(strings.ToLower(kind))]
	if !ok {
		return Descriptor{}, joberrors.Configurationf("unsupported cluster type %q%s", kind, suggest(kind, Kinds()))
	}
	return d, nil
}

// Kinds lists the supported scheduler kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(descriptors))
	for k := range descriptors {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// ParseID extracts the scheduler identifier from the submission command
// output: the last whitespace delimited token.
func (d Descriptor) ParseID(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", joberrors.Submissionf("%s returned no job id", d.SubmitCommand)
	}
	id := fields[len(fields)-1]
	if !d.IDPattern.MatchString(id) {
		return "", joberrors.Submissionf("%s returned malformed job id %q", d.SubmitCommand, id)
	}
	return id, nil
}

// Container wraps command in the container runtime invocation.
func (d Descriptor) Container(hub, image, params, command string) string {
	if d.Vendor {
		return fmt.Sprintf("pcocc-rs run %s:%s %s -- %s", hub, image, params, command)
	}
	return fmt.Sprintf("apptainer run %s %s %s", params, image, command)
}

// ContainerScript launches a driver script once inside the vendor
// container. Only multi-task backends run drivers, and all of them are
// vendor backends.
func (d Descriptor) ContainerScript(hub, image, params, script string) string {
	inner := "/bin/bash " + batchtemplate.ShellQuote(script)
	return fmt.Sprintf("pcocc-rs run %s:%s %s /bin/bash -- -c %s", hub, image, params, batchtemplate.ShellQuote(inner))
}

// suggest returns a " (did you mean ...)" hint when name is close to one of
// the options.
func suggest(name string, options []string) string {
	best, bestDist := "", -1
	for _, o := range options {
		d := levenshtein.Distance(strings.ToLower(name), o, nil)
		if bestDist < 0 || d < bestDist {
			best, bestDist = o, d
		}
	}
	if bestDist < 0 || bestDist > 2 {
		return fmt.Sprintf(" (valid: %s)", strings.Join(options, ", "))
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}
