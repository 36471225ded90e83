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
	"context"
	"os"
	"os/signal"
	"syscall"

	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/run"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	maxJobs     int
	dryRun      bool
	verbose     bool
	templateDir string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the experiment YAML file. Required.")
	runCmd.Flags().IntVarP(&maxJobs, "njobs", "n", 1, "Maximum number of jobs running at once.")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Write the batch scripts without submitting them.")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log the executor status at every poll.")
	runCmd.Flags().StringVar(&templateDir, "template-dir", "", "Directory overriding the built-in batch templates.")

	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("njobs")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the commands of an experiment file on an HPC cluster.",
	Long: `The 'run' command reads an experiment file, submits one job per command
(or one multi-task job per chunk when the file has a 'multi' section), keeps at
most --njobs of them running and waits until all of them are done.

A report is written to report.txt in the experiment working folder.`,
	Run:          runRunCmd,
	SilenceUsage: true,
}

func runRunCmd(cmd *cobra.Command, args []string) {
	if maxJobs < 1 {
		logging.Fatal("--njobs must be at least 1, got %d", maxJobs)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run.ExecuteRun(ctx, run.RunOptions{
		ConfigPath:  configPath,
		MaxJobs:     maxJobs,
		DryRun:      dryRun,
		Verbose:     verbose,
		TemplateDir: templateDir,
	})
	if err != nil {
		logging.Fatal("hpcbatch run failed: %v", err)
	}
	printReports(cmd.OutOrStdout(), res.Executor.Report())
}
