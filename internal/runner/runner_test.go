package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wphospital/sprucepy/internal/core"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), nil))
}

type fakeRunAPI struct {
	mu     sync.Mutex
	events []string

	secrets   []core.TaskSecret
	secretErr error

	finalized []spruceapi.Finalization
	pids      []int
}

func (f *fakeRunAPI) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRunAPI) CreateRun(context.Context, string, string, time.Time) (string, error) {
	f.record("create")
	return "42", nil
}

func (f *fakeRunAPI) PatchHeartbeat(context.Context, string, time.Time) error {
	f.record("heartbeat")
	return nil
}

func (f *fakeRunAPI) PatchPID(_ context.Context, _ string, pid int) error {
	f.mu.Lock()
	f.pids = append(f.pids, pid)
	f.mu.Unlock()
	f.record("pid")
	return nil
}

func (f *fakeRunAPI) FinalizeRun(_ context.Context, _ string, fin spruceapi.Finalization) error {
	f.mu.Lock()
	f.finalized = append(f.finalized, fin)
	f.mu.Unlock()
	f.record("finalize")
	return nil
}

func (f *fakeRunAPI) TaskSecrets(context.Context, string) ([]core.TaskSecret, error) {
	return f.secrets, nil
}

func (f *fakeRunAPI) SecretByKey(_ context.Context, key string) (string, error) {
	if f.secretErr != nil {
		return "", f.secretErr
	}
	return "value-for-" + key, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, taskID, runID string, _ time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, taskID+"/"+runID)
	return nil
}

func writeScript(t *testing.T, body string) (dir, name string) {
	t.Helper()
	dir = t.TempDir()
	name = "task.py"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir, name
}

// The tests drive real child processes through /bin/sh standing in as the
// python interpreter, which keeps the spawn and wait paths honest.
func newTestRunner(t *testing.T, api *fakeRunAPI, notifier *fakeNotifier, dir, script string) *Runner {
	t.Helper()
	return New(Options{
		TaskID:            "7",
		Script:            script,
		WorkDir:           dir,
		CreatedBy:         "test",
		PythonPath:        "/bin/sh",
		HeartbeatInterval: 5 * time.Millisecond,
	}, api, notifier, nil, discardLogger())
}

func TestRunSuccess(t *testing.T) {
	dir, script := writeScript(t, "echo hello\nexit 0\n")
	api := &fakeRunAPI{}
	notifier := &fakeNotifier{}

	res, err := newTestRunner(t, api, notifier, dir, script).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != core.RunStatusSuccess {
		t.Errorf("status = %q, want success", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != 0 {
		t.Errorf("return code = %v, want 0", res.ReturnCode)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output = %q", res.Output)
	}
	if len(api.finalized) != 1 {
		t.Errorf("finalize count = %d, want 1", len(api.finalized))
	}
	if len(api.pids) != 1 {
		t.Errorf("pid reports = %d, want 1", len(api.pids))
	}
	if len(notifier.calls) != 0 {
		t.Errorf("notifier called on success: %v", notifier.calls)
	}
}

func TestRunFailureNotifies(t *testing.T) {
	dir, script := writeScript(t, "echo boom >&2\nexit 3\n")
	api := &fakeRunAPI{}
	notifier := &fakeNotifier{}

	res, err := newTestRunner(t, api, notifier, dir, script).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != core.RunStatusFail {
		t.Errorf("status = %q, want fail", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != 3 {
		t.Errorf("return code = %v, want 3", res.ReturnCode)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error text = %q", res.Error)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "7/42" {
		t.Errorf("notifier calls = %v", notifier.calls)
	}
}

func TestRunKilledBySignal(t *testing.T) {
	dir, script := writeScript(t, "kill -9 $$\n")
	api := &fakeRunAPI{}
	notifier := &fakeNotifier{}

	res, err := newTestRunner(t, api, notifier, dir, script).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != core.RunStatusKilled {
		t.Errorf("status = %q, want killed", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != core.ReturnCodeKilled {
		t.Errorf("return code = %v, want %d", res.ReturnCode, core.ReturnCodeKilled)
	}
}

func TestUnsupportedScriptFailsWithoutSpawn(t *testing.T) {
	api := &fakeRunAPI{}
	notifier := &fakeNotifier{}
	r := New(Options{
		TaskID:     "7",
		Script:     "task.txt",
		CreatedBy:  "test",
		PythonPath: "/bin/sh",
	}, api, notifier, nil, discardLogger())

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != core.RunStatusFail {
		t.Errorf("status = %q, want fail", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != core.ReturnCodeConfigError {
		t.Errorf("return code = %v, want %d", res.ReturnCode, core.ReturnCodeConfigError)
	}
	if len(api.pids) != 0 {
		t.Errorf("pid reported for a run that must not spawn: %v", api.pids)
	}
	if len(api.finalized) != 1 {
		t.Errorf("finalize count = %d, want 1", len(api.finalized))
	}
}

func TestSecretResolutionFailureFailsRun(t *testing.T) {
	dir, script := writeScript(t, "exit 0\n")
	api := &fakeRunAPI{
		secrets:   []core.TaskSecret{{Alias: "DB_PASSWORD", SecretKey: "prod-db"}},
		secretErr: errors.New("vault unreachable"),
	}
	notifier := &fakeNotifier{}

	res, err := newTestRunner(t, api, notifier, dir, script).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != core.RunStatusFail {
		t.Errorf("status = %q, want fail", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != core.ReturnCodeConfigError {
		t.Errorf("return code = %v, want %d", res.ReturnCode, core.ReturnCodeConfigError)
	}
	if len(api.pids) != 0 {
		t.Errorf("pid reported for a run that must not spawn: %v", api.pids)
	}
}

func TestNoHeartbeatAfterFinalize(t *testing.T) {
	dir, script := writeScript(t, "sleep 0.05\nexit 0\n")
	api := &fakeRunAPI{}

	if _, err := newTestRunner(t, api, &fakeNotifier{}, dir, script).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Give a straggler heartbeat, if one existed, time to land.
	time.Sleep(20 * time.Millisecond)

	api.mu.Lock()
	events := append([]string(nil), api.events...)
	api.mu.Unlock()

	finalized := false
	for _, ev := range events {
		if ev == "finalize" {
			finalized = true
			continue
		}
		if finalized && ev == "heartbeat" {
			t.Fatalf("heartbeat after finalize: %v", events)
		}
	}
	if !finalized {
		t.Fatalf("no finalize event: %v", events)
	}
}

type fakeKillAPI struct {
	finalized []spruceapi.Finalization
}

func (f *fakeKillAPI) FinalizeRun(_ context.Context, _ string, fin spruceapi.Finalization) error {
	f.finalized = append(f.finalized, fin)
	return nil
}

func TestKillDeadPIDClosesRunAsTimeout(t *testing.T) {
	api := &fakeKillAPI{}
	k := NewKiller(api, discardLogger())
	k.processExists = func(int32) (bool, error) { return false, nil }
	k.killTree = func(int32) error {
		t.Fatal("kill attempted against a dead pid")
		return nil
	}

	if err := k.Kill(context.Background(), 12345, "42"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(api.finalized) != 1 {
		t.Fatalf("finalize count = %d, want 1", len(api.finalized))
	}
	fin := api.finalized[0]
	if fin.Status != core.RunStatusTimeout {
		t.Errorf("status = %q, want timeout", fin.Status)
	}
	if fin.ReturnCode == nil || *fin.ReturnCode != core.ReturnCodeTimeout {
		t.Errorf("return code = %v, want %d", fin.ReturnCode, core.ReturnCodeTimeout)
	}
}

func TestKillLivePIDDoesNotFinalize(t *testing.T) {
	api := &fakeKillAPI{}
	killed := false
	k := NewKiller(api, discardLogger())
	k.processExists = func(int32) (bool, error) { return true, nil }
	k.killTree = func(int32) error {
		killed = true
		return nil
	}

	if err := k.Kill(context.Background(), 12345, "42"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !killed {
		t.Error("process tree was not killed")
	}
	if len(api.finalized) != 0 {
		t.Errorf("live kill must not finalize, got %v", api.finalized)
	}
}

func TestEnvironmentIncludesRunIdentifiersAndSecrets(t *testing.T) {
	api := &fakeRunAPI{
		secrets: []core.TaskSecret{{Alias: "DB_PASSWORD", SecretKey: "prod-db"}},
	}
	r := New(Options{TaskID: "7", Script: "task.py", PythonPath: "python3"},
		api, nil, nil, discardLogger())

	env, err := r.environment(context.Background(), "42")
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	want := map[string]bool{
		"TASK_ID=7":                     false,
		"RUN_ID=42":                     false,
		"DB_PASSWORD=value-for-prod-db": false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("missing %s", kv)
		}
	}
}
