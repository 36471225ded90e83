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

// State is the lifecycle state of a job.
type State string

const (
	NotStarted State = "NOT_STARTED"
	Running    State = "RUNNING"
	Done       State = "DONE"
	Failed     State = "FAILED"
)

var validTransitions = map[State][]State{
	NotStarted: {Running},
	Running:    {Done, Failed},
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}
