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

	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/run"

	"github.com/spf13/cobra"
)

var (
	generateConfig      string
	generateTemplateDir string
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateConfig, "config", "c", "", "Path to the experiment YAML file. Required.")
	generateCmd.Flags().StringVar(&generateTemplateDir, "template-dir", "", "Directory overriding the built-in batch templates.")
	_ = generateCmd.MarkFlagRequired("config")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Writes the batch scripts of an experiment without submitting them.",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := run.ExecuteGenerate(run.RunOptions{ConfigPath: generateConfig, TemplateDir: generateTemplateDir})
		if err != nil {
			logging.Fatal("hpcbatch generate failed: %v", err)
		}
		for _, j := range e.Jobs() {
			fmt.Fprintln(cmd.OutOrStdout(), j.Paths().Script)
		}
	},
	SilenceUsage: true,
}
