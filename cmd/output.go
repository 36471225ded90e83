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
	"fmt"
	"io"
	"os"
	"strings"

	"hpc-batch/pkg/backend"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var stateAttributes = map[backend.State][]color.Attribute{
	backend.NotStarted: {color.Faint},
	backend.Running:    {color.FgYellow},
	backend.Done:       {color.FgGreen},
	backend.Failed:     {color.FgRed, color.Bold},
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printReports writes one report per job, colouring the state on terminals.
func printReports(w io.Writer, reports []backend.Report) {
	colored := isTerminal(w)
	for _, r := range reports {
		line := r.String()
		if attrs, ok := stateAttributes[r.State]; ok && colored {
			c := color.New(attrs...)
			c.EnableColor()
			state := "state=" + string(r.State)
			line = strings.Replace(line, state, "state="+c.Sprint(r.State), 1)
		}
		fmt.Fprintln(w, line)
	}
}
