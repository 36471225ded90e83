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

package statuscache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scheduler states shared by every backend.
const (
	StateRunning     = "RUNNING"
	StatePending     = "PENDING"
	StateSuspended   = "SUSPENDED"
	StateCompleting  = "COMPLETING"
	StateConfiguring = "CONFIGURING"
	StateUnknown     = "UNKNOWN"
	StateCompleted   = "COMPLETED"
	StateFailed      = "FAILED"
)

// ValidStates are the states of a job the scheduler still owns.
var ValidStates = []string{StateRunning, StatePending, StateSuspended, StateCompleting, StateConfiguring, StateUnknown}

// FailureStates are terminal states that mean the job did not succeed.
var FailureStates = []string{
	StateFailed, "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY",
	"BOOT_FAIL", "DEADLINE", "PREEMPTED",
}

// IsFailure reports whether state is a terminal failure state.
func IsFailure(state string) bool {
	for _, f := range FailureStates {
		if strings.EqualFold(f, state) {
			return true
		}
	}
	return false
}

// SqueueArgs returns the arguments of "squeue --states=all --json" with the
// ids passed through idFlag, for example "--jobs=" or "-j".
func SqueueArgs(idFlag string) func([]string) []string {
	return func(ids []string) []string {
		joined := strings.Join(ids, ",")
		if strings.HasSuffix(idFlag, "=") {
			return []string{"--states=all", "--json", idFlag + joined}
		}
		return []string{"--states=all", "--json", idFlag, joined}
	}
}

// QstatArgs returns the arguments of "qstat -f -F json -x" for ids.
func QstatArgs(ids []string) []string {
	return append([]string{"-f", "-F", "json", "-x"}, ids...)
}

type squeueJob struct {
	JobID    json.RawMessage `json:"job_id"`
	JobState json.RawMessage `json:"job_state"`
	ExitCode json.RawMessage `json:"exit_code"`
}

// ParseSqueue decodes the JSON output of squeue. Both the flat
// ("job_state": "RUNNING") and list ("job_state": ["RUNNING"]) forms are
// accepted.
func ParseSqueue(out []byte) (map[string]Record, error) {
	var resp struct {
		Jobs *[]squeueJob `json:"jobs"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode squeue output: %w", err)
	}
	if resp.Jobs == nil {
		return nil, fmt.Errorf("squeue output has no jobs list")
	}

	records := make(map[string]Record, len(*resp.Jobs))
	for _, j := range *resp.Jobs {
		id, err := scalarString(j.JobID)
		if err != nil || id == "" {
			return nil, fmt.Errorf("invalid job_id %s", string(j.JobID))
		}
		state, err := firstString(j.JobState)
		if err != nil {
			return nil, fmt.Errorf("invalid job_state for job %s: %w", id, err)
		}
		rec := Record{ID: id, State: strings.ToUpper(state)}
		rec.ExitCode, rec.HasExitCode = exitCode(j.ExitCode)
		records[id] = rec
	}
	return records, nil
}

type qstatJob struct {
	JobState   string          `json:"job_state"`
	ExitStatus json.RawMessage `json:"Exit_status"`
}

// ParseQstat decodes the JSON output of "qstat -f -F json" and maps the
// PBS single letter states to the shared vocabulary.
func ParseQstat(out []byte) (map[string]Record, error) {
	var resp struct {
		Jobs map[string]qstatJob `json:"Jobs"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode qstat output: %w", err)
	}
	records := make(map[string]Record, len(resp.Jobs))
	for id, j := range resp.Jobs {
		rec := Record{ID: id}
		rec.ExitCode, rec.HasExitCode = exitCode(j.ExitStatus)
		rec.State = pbsState(j.JobState, rec.ExitCode)
		records[id] = rec
	}
	return records, nil
}

func pbsState(letter string, exit int) string {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "Q", "W", "T", "H":
		return StatePending
	case "R", "B":
		return StateRunning
	case "E":
		return StateCompleting
	case "S", "U":
		return StateSuspended
	case "F", "X":
		if exit != 0 {
			return StateFailed
		}
		return StateCompleted
	default:
		return StateUnknown
	}
}

func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func firstString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[0], nil
}

// exitCode understands a bare number and the slurm 23+ shape
// {"return_code": {"set": true, "number": 0}}.
func exitCode(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v, true
		}
		return 0, false
	}
	var nested struct {
		ReturnCode json.RawMessage `json:"return_code"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil || len(nested.ReturnCode) == 0 {
		return 0, false
	}
	if v, ok := exitCode(nested.ReturnCode); ok {
		return v, true
	}
	var num struct {
		Set    bool `json:"set"`
		Number int  `json:"number"`
	}
	if err := json.Unmarshal(nested.ReturnCode, &num); err != nil || !num.Set {
		return 0, false
	}
	return num.Number, true
}
