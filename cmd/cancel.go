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
	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/run"

	"github.com/spf13/cobra"
)

var cancelCluster string

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().StringVar(&cancelCluster, "cluster", "", "Scheduler the jobs were submitted to (slurm, pbs or ccc). Required.")
	_ = cancelCmd.MarkFlagRequired("cluster")
}

var cancelCmd = &cobra.Command{
	Use:   "cancel --cluster <type> <job id>...",
	Short: "Stops jobs on the scheduler.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := run.CancelJobs(cmd.Context(), nil, cancelCluster, args); err != nil {
			logging.Fatal("hpcbatch cancel failed: %v", err)
		}
	},
	SilenceUsage: true,
}
