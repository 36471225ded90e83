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
	"strings"

	"hpc-batch/pkg/layout"
	"hpc-batch/pkg/logging"
)

// TaskSummary counts the sub-tasks of a multi-task job from their markers.
type TaskSummary struct {
	Total       int
	Finished    int
	Failed      int
	FailedTasks []int
}

func summarize(total int, markers []layout.Marker) TaskSummary {
	s := TaskSummary{Total: total}
	for _, m := range markers {
		if !m.Complete || m.Index >= total {
			continue
		}
		s.Finished++
		if m.ExitCode != 0 {
			s.Failed++
			s.FailedTasks = append(s.FailedTasks, m.Index)
		}
	}
	return s
}

// Report summarises a job for humans.
type Report struct {
	JobID     int
	ClusterID string
	Kind      Kind
	State     State
	// The fields below are set for multi-task jobs only.
	Strategy Strategy
	Tasks    *TaskSummary
	LogDir   string
}

// Report returns the current summary of the job. Task counts of a started
// multi-task job are read from its marker files.
func (j *Job) Report() Report {
	r := Report{
		JobID:     j.ID,
		ClusterID: j.clusterID,
		Kind:      j.env.Descriptor.Kind,
		State:     j.state,
	}
	if !j.multi {
		return r
	}
	r.Strategy = j.strategy
	r.LogDir = j.paths.LogDir
	tasks := TaskSummary{Total: len(j.specs)}
	if j.state != NotStarted {
		if s, err := j.scanTasks(); err != nil {
			logging.Warn("job %d: %v", j.ID, err)
			tasks = j.tasks
		} else {
			tasks = s
		}
	}
	r.Tasks = &tasks
	return r
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job<id=%d cluster=%s cluster_id=%s state=%s>", r.JobID, r.Kind, r.ClusterID, r.State)
	if r.Tasks != nil {
		fmt.Fprintf(&b, "\n  strategy: %s", r.Strategy)
		fmt.Fprintf(&b, "\n  number_of_tasks: %d", r.Tasks.Total)
		fmt.Fprintf(&b, "\n  finished_tasks: %d", r.Tasks.Finished)
		fmt.Fprintf(&b, "\n  failed_tasks: %d %v", r.Tasks.Failed, r.Tasks.FailedTasks)
		fmt.Fprintf(&b, "\n  logdir: %s", r.LogDir)
	}
	return b.String()
}
