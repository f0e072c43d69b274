package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// interpreter resolves the script's interpreter from its extension. Unknown
// extensions and unconfigured interpreter paths both refuse to spawn.
func (r *Runner) interpreter() (string, error) {
	ext := strings.ToLower(filepath.Ext(r.opts.Script))
	switch ext {
	case ".py":
		if r.opts.PythonPath == "" {
			return "", fmt.Errorf("no python interpreter configured for %s", r.opts.Script)
		}
		return r.opts.PythonPath, nil
	case ".r":
		if r.opts.RscriptPath == "" {
			return "", fmt.Errorf("no Rscript interpreter configured for %s", r.opts.Script)
		}
		return r.opts.RscriptPath, nil
	default:
		return "", fmt.Errorf("unsupported script type %q for %s", ext, r.opts.Script)
	}
}

// environment builds the child's environment: the parent environment plus the
// run identifiers and every secret alias the task declares, resolved through
// the vault.
func (r *Runner) environment(ctx context.Context, runID string) ([]string, error) {
	env := os.Environ()
	env = append(env,
		"TASK_ID="+r.opts.TaskID,
		"RUN_ID="+runID,
	)

	secrets, err := r.api.TaskSecrets(ctx, r.opts.TaskID)
	if err != nil {
		return nil, fmt.Errorf("list task secrets: %w", err)
	}
	for _, s := range secrets {
		value, err := r.api.SecretByKey(ctx, s.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %s: %w", s.Alias, err)
		}
		env = append(env, s.Alias+"="+value)
	}
	return env, nil
}
