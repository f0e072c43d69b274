package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/journal"
	"github.com/wphospital/sprucepy/internal/runner"
)

// recordExit stashes the status's exit code for main to report once every
// deferred cleanup has run. Calling os.Exit here would skip the journal close.
func recordExit(status core.RunStatus) {
	exitCode = core.ExitCodeFor(status)
}

// newRunCmd builds the command cron entries invoke. Its exit code mirrors the
// run's terminal status: 0 success, 1 fail, 2 killed, 3 timeout.
func newRunCmd() *cobra.Command {
	var (
		taskID    string
		script    string
		workDir   string
		createdBy string
		args      []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task under supervision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			notifier, err := a.failureNotifier()
			if err != nil {
				return err
			}

			// The journal is a local convenience; a broken one must not
			// block the run.
			var jrnl runner.RunJournal
			if j, err := journal.Open(cmd.Context(), a.cfg.StateDir); err != nil {
				a.logger.Warn("run journal unavailable", "err", err)
			} else {
				defer j.Close()
				jrnl = j
			}

			r := runner.New(runner.Options{
				TaskID:            taskID,
				Script:            script,
				Args:              args,
				WorkDir:           workDir,
				CreatedBy:         createdBy,
				PythonPath:        a.cfg.Runner.PythonPath,
				RscriptPath:       a.cfg.Runner.RscriptPath,
				HeartbeatInterval: a.cfg.Runner.HeartbeatInterval,
			}, a.client, notifier, jrnl, a.logger)

			res, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", res.RunID, res.Status)
			recordExit(res.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&script, "script", "", "script file to execute")
	cmd.Flags().StringVar(&workDir, "dir", "", "working directory")
	cmd.Flags().StringVar(&createdBy, "created-by", "cron", "who triggered the run")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "additional script argument (repeatable)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func newKillCmd() *cobra.Command {
	var (
		pid   int32
		runID string
	)

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill a running task's process tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return runner.NewKiller(a.client, a.logger).Kill(cmd.Context(), pid, runID)
		},
	}

	cmd.Flags().Int32Var(&pid, "pid", 0, "process id to kill")
	cmd.Flags().StringVar(&runID, "run", "", "run id the process belongs to")
	_ = cmd.MarkFlagRequired("pid")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <task-id>",
		Short: "Trigger a task execution through the coordination service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.client.ExecuteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "execution of task %s triggered\n", args[0])
			return nil
		},
	}
	return cmd
}
