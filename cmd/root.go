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

// Package cmd defines the command line interface of hpcbatch.
package cmd

import (
	"hpc-batch/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "hpcbatch",
	Short: "Submits, tracks and throttles batches of jobs on HPC schedulers.",
	Long: `hpcbatch submits batches of containerised commands to Slurm, PBS or the
CCC vendor scheduler, keeps at most a given number of them running and polls
the scheduler until every job is done.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetLevel(logging.ParseLevel(logLevel))
		logging.SetFormat(logFormat)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json).")
}

// Execute runs the command selected on the command line.
func Execute() error {
	return rootCmd.Execute()
}
