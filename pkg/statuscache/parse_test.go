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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSqueue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]Record
		wantErr bool
	}{
		{
			name:  "numeric id and flat state",
			input: `{"jobs":[{"job_id":42,"job_state":"running","exit_code":0}]}`,
			want:  map[string]Record{"42": {ID: "42", State: StateRunning, HasExitCode: true}},
		},
		{
			name:  "string id and state list",
			input: `{"jobs":[{"job_id":"43","job_state":["COMPLETED"],"exit_code":{"return_code":{"set":true,"number":0}}}]}`,
			want:  map[string]Record{"43": {ID: "43", State: StateCompleted, HasExitCode: true}},
		},
		{
			name:  "unset exit code",
			input: `{"jobs":[{"job_id":44,"job_state":["PENDING"],"exit_code":{"return_code":{"set":false,"number":0}}}]}`,
			want:  map[string]Record{"44": {ID: "44", State: StatePending}},
		},
		{
			name:  "empty list",
			input: `{"jobs":[]}`,
			want:  map[string]Record{},
		},
		{name: "garbage", input: "squeue: error", wantErr: true},
		{name: "no jobs key", input: `{}`, wantErr: true},
		{name: "missing state", input: `{"jobs":[{"job_id":1}]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSqueue([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSqueue() error = %v, wantErr %t", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); !tt.wantErr && diff != "" {
				t.Errorf("ParseSqueue() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseQstat(t *testing.T) {
	input := `{
  "timestamp": 1700000000,
  "pbs_server": "pbs01",
  "Jobs": {
    "100.pbs01": {"job_state": "Q"},
    "101.pbs01": {"job_state": "R"},
    "102.pbs01": {"job_state": "E"},
    "103.pbs01": {"job_state": "H"},
    "104.pbs01": {"job_state": "S"},
    "105.pbs01": {"job_state": "F", "Exit_status": 0},
    "106.pbs01": {"job_state": "F", "Exit_status": 271},
    "107.pbs01": {"job_state": "Z"}
  }
}`
	got, err := ParseQstat([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"100.pbs01": StatePending,
		"101.pbs01": StateRunning,
		"102.pbs01": StateCompleting,
		"103.pbs01": StatePending,
		"104.pbs01": StateSuspended,
		"105.pbs01": StateCompleted,
		"106.pbs01": StateFailed,
		"107.pbs01": StateUnknown,
	}
	for id, state := range want {
		if got[id].State != state {
			t.Errorf("state of %s = %q, want %q", id, got[id].State, state)
		}
	}
	if r := got["106.pbs01"]; !r.HasExitCode || r.ExitCode != 271 {
		t.Errorf("exit status of 106 = %+v", r)
	}
}

func TestArgs(t *testing.T) {
	ids := []string{"1", "2"}
	if diff := cmp.Diff([]string{"--states=all", "--json", "-j", "1,2"}, SqueueArgs("-j")(ids)); diff != "" {
		t.Errorf("SqueueArgs(-j) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-f", "-F", "json", "-x", "1", "2"}, QstatArgs(ids)); diff != "" {
		t.Errorf("QstatArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestIsFailure(t *testing.T) {
	for _, s := range []string{"FAILED", "cancelled", "TIMEOUT", "OUT_OF_MEMORY"} {
		if !IsFailure(s) {
			t.Errorf("IsFailure(%q) = false", s)
		}
	}
	for _, s := range []string{"COMPLETED", "RUNNING", ""} {
		if IsFailure(s) {
			t.Errorf("IsFailure(%q) = true", s)
		}
	}
}
