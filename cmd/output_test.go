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

package cmd

import (
	"bytes"
	"testing"

	"hpc-batch/pkg/backend"
)

func TestPrintReportsPlainWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	printReports(&buf, []backend.Report{
		{JobID: 1, ClusterID: "101", Kind: backend.Slurm, State: backend.Done},
		{JobID: 2, ClusterID: "102", Kind: backend.Slurm, State: backend.Failed},
	})
	want := "Job<id=1 cluster=slurm cluster_id=101 state=DONE>\n" +
		"Job<id=2 cluster=slurm cluster_id=102 state=FAILED>\n"
	if got := buf.String(); got != want {
		t.Errorf("printReports() = %q, want %q", got, want)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"run", "generate", "cancel"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
	if f := runCmd.Flags().Lookup("njobs"); f == nil || f.Shorthand != "n" {
		t.Error("run has no -n/--njobs flag")
	}
}
