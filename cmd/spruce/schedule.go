package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/deps"
	"github.com/wphospital/sprucepy/internal/mcp"
	"github.com/wphospital/sprucepy/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	var (
		script     string
		scriptArgs []string
		workDir    string
		frequency  string
		interval   int
		startRaw   string
	)

	cmd := &cobra.Command{
		Use:   "schedule <task-id>",
		Short: "Write or replace a task's crontab entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}

			task := scheduler.Task{ID: args[0], Script: script, Args: scriptArgs, WorkDir: workDir}
			if frequency != "" {
				freq, err := core.ParseFrequency(frequency)
				if err != nil {
					return err
				}
				start, err := parseStartFlag(startRaw)
				if err != nil {
					return err
				}
				task.Recurrence = &core.Recurrence{Frequency: freq, Interval: interval, Start: start}
			}

			if err := sched.Schedule(task); err != nil {
				return err
			}
			current, err := sched.CurrentSchedule(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), current)
			return nil
		},
	}

	cmd.Flags().StringVar(&script, "script", "", "script file the task runs")
	cmd.Flags().StringArrayVar(&scriptArgs, "arg", nil, "script argument forwarded to every run (repeatable)")
	cmd.Flags().StringVar(&workDir, "dir", "", "directory the task runs in")
	cmd.Flags().StringVar(&frequency, "frequency", "", "minutely, hourly, daily, weekly, or monthly (omit to remove the schedule)")
	cmd.Flags().IntVar(&interval, "interval", 1, "recurrence interval")
	cmd.Flags().StringVar(&startRaw, "start", "", "anchor time, RFC3339")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func newUnscheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unschedule <task-id>",
		Short: "Remove a task's crontab entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			return sched.Unschedule(args[0])
		},
	}
}

func newCurrentScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current-schedule <task-id>",
		Short: "Show a task's schedule in plain language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			current, err := sched.CurrentSchedule(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), current)
			return nil
		},
	}
}

func newNextRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-run <task-id>",
		Short: "Show when a scheduled task fires next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			next, err := sched.NextRun(args[0], time.Now())
			if err != nil {
				return err
			}
			displayLoc, err := a.cfg.DisplayLocation()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next.In(displayLoc).Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func newInstallDepsCmd() *cobra.Command {
	var pipPath string

	cmd := &cobra.Command{
		Use:   "install-deps <dir>",
		Short: "Install a task directory's python dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return deps.NewInstaller(pipPath, a.logger).Install(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&pipPath, "pip", "pip", "pip executable")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve scheduling tools over MCP on stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			displayLoc, err := a.cfg.DisplayLocation()
			if err != nil {
				return err
			}
			return mcp.NewMCPServer(sched, a.client, a.logger, displayLoc).Run()
		},
	}
}
