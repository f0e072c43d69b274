// Package mcp exposes the agent's scheduling operations as MCP tools over
// stdio, so an LLM client can inspect and manage task schedules on this host.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/schedule"
	"github.com/wphospital/sprucepy/internal/scheduler"
)

// TaskExecutor triggers a task execution through the coordination service.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, taskID string) error
}

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	scheduler *scheduler.Scheduler
	executor  TaskExecutor
	logger    *slog.Logger
	location  *time.Location
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(sched *scheduler.Scheduler, executor TaskExecutor, logger *slog.Logger, location *time.Location) *MCPServer {
	return &MCPServer{
		scheduler: sched,
		executor:  executor,
		logger:    logger,
		location:  location,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"sprucepy",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")

	return server.ServeStdio(mcpServer)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("spruce_schedule_task",
		mcp.WithDescription("Schedule a task to run on a recurrence (minutely, hourly, daily, weekly, monthly)"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("Script file the task runs, e.g. etl.py"),
		),
		mcp.WithString("args",
			mcp.Description("Script arguments as a shell-quoted string, e.g. \"--env prod 'two words'\""),
		),
		mcp.WithString("working_dir",
			mcp.Description("Directory the task runs in"),
		),
		mcp.WithString("frequency",
			mcp.Required(),
			mcp.Description("Recurrence frequency: minutely, hourly, daily, weekly, monthly"),
			mcp.Enum("minutely", "hourly", "daily", "weekly", "monthly"),
		),
		mcp.WithNumber("interval",
			mcp.Description("Recurrence interval, default 1"),
			mcp.Min(1),
		),
		mcp.WithString("start",
			mcp.Description("Anchor time in RFC3339, fixes the minute/hour/day the schedule fires on"),
		),
	), s.handleScheduleTask)

	mcpServer.AddTool(mcp.NewTool("spruce_unschedule_task",
		mcp.WithDescription("Remove a task's schedule from this host"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleUnscheduleTask)

	mcpServer.AddTool(mcp.NewTool("spruce_current_schedule",
		mcp.WithDescription("Show a task's current schedule in plain language"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleCurrentSchedule)

	mcpServer.AddTool(mcp.NewTool("spruce_next_run",
		mcp.WithDescription("Show when a scheduled task will fire next"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleNextRun)

	mcpServer.AddTool(mcp.NewTool("spruce_execute_task",
		mcp.WithDescription("Trigger an immediate execution of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleExecuteTask)

	mcpServer.AddTool(mcp.NewTool("spruce_preview_fields",
		mcp.WithDescription("Preview the cron fields a recurrence translates to"),
		mcp.WithString("frequency",
			mcp.Required(),
			mcp.Description("Recurrence frequency: minutely, hourly, daily, weekly, monthly"),
			mcp.Enum("minutely", "hourly", "daily", "weekly", "monthly"),
		),
		mcp.WithNumber("interval",
			mcp.Description("Recurrence interval, default 1"),
			mcp.Min(1),
		),
		mcp.WithString("start",
			mcp.Description("Anchor time in RFC3339"),
		),
	), s.handlePreviewFields)

	s.logger.Info("MCP tools registered", "count", 6)
}

func (s *MCPServer) handleScheduleTask(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	script := mcp.ParseString(request, "script", "")

	rec, err := parseRecurrence(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	scriptArgs, err := shellquote.Split(mcp.ParseString(request, "args", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid args: %v", err)), nil
	}

	task := scheduler.Task{
		ID:         taskID,
		Script:     script,
		Args:       scriptArgs,
		WorkDir:    mcp.ParseString(request, "working_dir", ""),
		Recurrence: rec,
	}
	if err := s.scheduler.Schedule(task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", err)), nil
	}

	current, err := s.scheduler.CurrentSchedule(taskID)
	if err != nil {
		current = ""
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s scheduled\nSchedule: %s", taskID, current)), nil
}

func (s *MCPServer) handleUnscheduleTask(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.Unschedule(taskID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unschedule failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s unscheduled", taskID)), nil
}

func (s *MCPServer) handleCurrentSchedule(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	current, err := s.scheduler.CurrentSchedule(taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read schedule failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s: %s", taskID, current)), nil
}

func (s *MCPServer) handleNextRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	next, err := s.scheduler.NextRun(taskID, time.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("next run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s next fires at %s",
		taskID, next.In(s.location).Format("2006-01-02 15:04:05 MST"))), nil
}

func (s *MCPServer) handleExecuteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.executor.ExecuteTask(ctx, taskID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execute failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Execution of task %s triggered", taskID)), nil
}

func (s *MCPServer) handlePreviewFields(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := parseRecurrence(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fields, err := schedule.Build(*rec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid recurrence: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cron: %s\nSchedule: %s",
		fields.String(), schedule.Describe(fields.String(), s.location, s.location))), nil
}

func parseRecurrence(request mcp.CallToolRequest) (*core.Recurrence, error) {
	freq, err := core.ParseFrequency(mcp.ParseString(request, "frequency", ""))
	if err != nil {
		return nil, err
	}

	rec := &core.Recurrence{
		Frequency: freq,
		Interval:  int(mcp.ParseFloat64(request, "interval", 1)),
	}
	if raw := mcp.ParseString(request, "start", ""); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid start %q: must be RFC3339", raw)
		}
		rec.Start = &start
	}
	return rec, rec.Validate()
}
