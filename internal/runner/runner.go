// Package runner supervises one task execution end to end: it registers the
// run with the coordination API, keeps a heartbeat alive while the child
// process runs, and reports the terminal outcome exactly once.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/metrics"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

const defaultHeartbeatInterval = time.Minute

// RunAPI is the slice of the coordination client the supervisor needs.
type RunAPI interface {
	CreateRun(ctx context.Context, taskID, createdBy string, start time.Time) (string, error)
	PatchHeartbeat(ctx context.Context, runID string, at time.Time) error
	PatchPID(ctx context.Context, runID string, pid int) error
	FinalizeRun(ctx context.Context, runID string, fin spruceapi.Finalization) error
	TaskSecrets(ctx context.Context, taskID string) ([]core.TaskSecret, error)
	SecretByKey(ctx context.Context, key string) (string, error)
}

// FailureNotifier alerts recipients after a non-success terminal transition.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, taskID, runID string, startTime time.Time, errText string) error
}

// RunJournal records run attempts locally. All writes are best-effort; the
// coordination API stays the source of truth.
type RunJournal interface {
	RecordStart(ctx context.Context, runID, taskID string, startedAt time.Time) error
	RecordPID(ctx context.Context, runID string, pid int) error
	RecordFinal(ctx context.Context, runID string, status core.RunStatus, returnCode *int, endedAt time.Time) error
}

// Options configures a single supervised run.
type Options struct {
	TaskID    string
	Script    string
	Args      []string
	WorkDir   string
	CreatedBy string

	PythonPath  string
	RscriptPath string

	HeartbeatInterval time.Duration
}

// Runner executes one task under supervision.
type Runner struct {
	api      RunAPI
	notifier FailureNotifier
	journal  RunJournal
	logger   *slog.Logger
	opts     Options
}

func New(opts Options, api RunAPI, notifier FailureNotifier, journal RunJournal, logger *slog.Logger) *Runner {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Runner{
		api:      api,
		notifier: notifier,
		journal:  journal,
		logger:   logger,
		opts:     opts,
	}
}

// Result is the terminal outcome of a supervised run.
type Result struct {
	RunID      string
	Status     core.RunStatus
	ReturnCode *int
	Output     string
	Error      string
}

// Run drives the full lifecycle: create run, heartbeat, spawn, wait, finalize,
// notify. The heartbeat is joined before the terminal PATCH so no liveness
// update can land after the run is closed. Every path after run creation ends
// in exactly one FinalizeRun.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	runID, err := r.api.CreateRun(ctx, r.opts.TaskID, r.opts.CreatedBy, start)
	if err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	r.logger.Info("run registered", "task", r.opts.TaskID, "run", runID)

	if r.journal != nil {
		if err := r.journal.RecordStart(ctx, runID, r.opts.TaskID, start); err != nil {
			r.logger.Warn("journal start failed", "run", runID, "err", err)
		}
	}

	stopHeartbeat := r.startHeartbeat(ctx, runID)

	interpreter, err := r.interpreter()
	if err != nil {
		rc := core.ReturnCodeConfigError
		return r.finish(ctx, stopHeartbeat, Result{
			RunID:      runID,
			Status:     core.RunStatusFail,
			ReturnCode: &rc,
			Error:      err.Error(),
		}, start)
	}

	env, err := r.environment(ctx, runID)
	if err != nil {
		rc := core.ReturnCodeConfigError
		return r.finish(ctx, stopHeartbeat, Result{
			RunID:      runID,
			Status:     core.RunStatusFail,
			ReturnCode: &rc,
			Error:      err.Error(),
		}, start)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter, append([]string{r.opts.Script}, r.opts.Args...)...)
	cmd.Dir = r.opts.WorkDir
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return r.finish(ctx, stopHeartbeat, Result{
			RunID:  runID,
			Status: core.RunStatusFail,
			Error:  fmt.Sprintf("spawn %s: %v", r.opts.Script, err),
		}, start)
	}

	pid := cmd.Process.Pid
	r.logger.Info("task spawned", "run", runID, "pid", pid)
	if err := r.api.PatchPID(ctx, runID, pid); err != nil {
		r.logger.Warn("reporting pid failed", "run", runID, "err", err)
	}
	if r.journal != nil {
		if err := r.journal.RecordPID(ctx, runID, pid); err != nil {
			r.logger.Warn("journal pid failed", "run", runID, "err", err)
		}
	}

	waitErr := cmd.Wait()
	rc := returnCode(cmd, waitErr)
	status := core.ClassifyExit(rc)

	errText := ""
	if status != core.RunStatusSuccess {
		errText = stderr.String()
		if errText == "" && waitErr != nil {
			errText = waitErr.Error()
		}
	}

	return r.finish(ctx, stopHeartbeat, Result{
		RunID:      runID,
		Status:     status,
		ReturnCode: &rc,
		Output:     stdout.String(),
		Error:      errText,
	}, start)
}

// finish joins the heartbeat, issues the terminal PATCH, and fires failure
// notifications. It is the only place a run transitions to a terminal status.
func (r *Runner) finish(ctx context.Context, stopHeartbeat func(), res Result, start time.Time) (Result, error) {
	stopHeartbeat()

	end := time.Now()
	fin := spruceapi.Finalization{
		EndTime:    end,
		Status:     res.Status,
		ReturnCode: res.ReturnCode,
		Output:     res.Output,
		Error:      res.Error,
	}
	if err := r.api.FinalizeRun(ctx, res.RunID, fin); err != nil {
		r.logger.Error("finalizing run failed", "run", res.RunID, "err", err)
	}
	metrics.RunsTotal.WithLabelValues(string(res.Status)).Inc()

	if r.journal != nil {
		if err := r.journal.RecordFinal(ctx, res.RunID, res.Status, res.ReturnCode, end); err != nil {
			r.logger.Warn("journal final failed", "run", res.RunID, "err", err)
		}
	}

	r.logger.Info("run finished",
		"run", res.RunID, "status", res.Status, "return_code", res.ReturnCode)

	if res.Status != core.RunStatusSuccess && r.notifier != nil {
		if err := r.notifier.NotifyFailure(ctx, r.opts.TaskID, res.RunID, start, res.Error); err != nil {
			r.logger.Warn("failure notification failed", "run", res.RunID, "err", err)
		}
	}
	return res, nil
}

// startHeartbeat patches a liveness timestamp on a fixed interval until the
// returned stop function is called. Stop blocks until the goroutine exits, so
// callers can order the last heartbeat strictly before the terminal PATCH.
func (r *Runner) startHeartbeat(ctx context.Context, runID string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				if err := r.api.PatchHeartbeat(ctx, runID, at); err != nil {
					r.logger.Warn("heartbeat failed", "run", runID, "err", err)
					continue
				}
				metrics.HeartbeatsTotal.Inc()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// returnCode maps the child's exit state to the run's return code. A child
// that died on a signal reports the negated signal number, so SIGKILL comes
// back as -9 and classifies as killed.
func returnCode(cmd *exec.Cmd, waitErr error) int {
	state := cmd.ProcessState
	if state == nil {
		return core.ReturnCodeConfigError
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	if waitErr != nil {
		return 1
	}
	return 0
}
