package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/metrics"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

// KillAPI is the slice of the coordination client the killer needs.
type KillAPI interface {
	FinalizeRun(ctx context.Context, runID string, fin spruceapi.Finalization) error
}

// Killer tears down a supervised process tree. It is used against runs whose
// supervisor lives in another process, typically from the daemon's kill
// endpoint or a watchdog cron entry.
type Killer struct {
	api    KillAPI
	logger *slog.Logger

	// processExists and killTree are swapped by tests.
	processExists func(pid int32) (bool, error)
	killTree      func(pid int32) error
}

func NewKiller(api KillAPI, logger *slog.Logger) *Killer {
	return &Killer{
		api:           api,
		logger:        logger,
		processExists: process.PidExists,
		killTree:      killProcessTree,
	}
}

// Kill terminates the process tree rooted at pid. When the pid is already
// gone the run is assumed stuck and is closed out as a timeout; the running
// supervisor reports the terminal status itself otherwise. Repeated calls
// against a dead pid are harmless.
func (k *Killer) Kill(ctx context.Context, pid int32, runID string) error {
	exists, err := k.processExists(pid)
	if err != nil {
		return fmt.Errorf("check pid %d: %w", pid, err)
	}

	if !exists {
		k.logger.Info("pid already gone, closing run as timeout", "pid", pid, "run", runID)
		rc := core.ReturnCodeTimeout
		fin := spruceapi.Finalization{
			EndTime:    time.Now(),
			Status:     core.RunStatusTimeout,
			ReturnCode: &rc,
			Error:      fmt.Sprintf("process %d no longer exists", pid),
		}
		if err := k.api.FinalizeRun(ctx, runID, fin); err != nil {
			return fmt.Errorf("finalize stale run: %w", err)
		}
		metrics.RunsTotal.WithLabelValues(string(core.RunStatusTimeout)).Inc()
		return nil
	}

	if err := k.killTree(pid); err != nil {
		return fmt.Errorf("kill process tree %d: %w", pid, err)
	}
	k.logger.Info("process tree killed", "pid", pid, "run", runID)
	return nil
}

// killProcessTree kills the children before the root so nothing reparents and
// keeps running after the supervisor observes the death.
func killProcessTree(pid int32) error {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	children, err := proc.Children()
	if err == nil {
		for _, child := range children {
			if err := child.Kill(); err != nil {
				return fmt.Errorf("kill child %d: %w", child.Pid, err)
			}
		}
	}
	return proc.Kill()
}
