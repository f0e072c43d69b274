// Package deps prepares a python task directory before its first run: when a
// requirements.txt exists it is installed wholesale, otherwise the scripts are
// scanned for top-level imports and each package is installed individually.
package deps

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var importPattern = regexp.MustCompile(`(^from [^.][^\s]+ import .+)|(^import .+( as .+)?)`)

// Installer installs python dependencies for a task directory.
type Installer struct {
	pipPath string
	logger  *slog.Logger

	// runCmd is swapped by tests.
	runCmd func(ctx context.Context, dir string, args ...string) error
}

func NewInstaller(pipPath string, logger *slog.Logger) *Installer {
	if pipPath == "" {
		pipPath = "pip"
	}
	i := &Installer{pipPath: pipPath, logger: logger}
	i.runCmd = i.pip
	return i
}

func (i *Installer) pip(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, i.pipPath, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", i.pipPath, strings.Join(args, " "), err, out)
	}
	return nil
}

// Install prepares dir. A requirements.txt wins over import scanning.
func (i *Installer) Install(ctx context.Context, dir string) error {
	reqPath := filepath.Join(dir, "requirements.txt")
	if _, err := os.Stat(reqPath); err == nil {
		i.logger.Info("installing from requirements.txt", "dir", dir)
		return i.runCmd(ctx, dir, "install", "-r", "requirements.txt")
	}

	packages, err := ScanImports(dir)
	if err != nil {
		return fmt.Errorf("scan imports in %s: %w", dir, err)
	}
	for _, pkg := range packages {
		i.logger.Info("installing package", "package", pkg)
		if err := i.runCmd(ctx, dir, "install", NormalizeName(pkg)); err != nil {
			return err
		}
	}
	return nil
}

// ScanImports walks dir's python scripts and collects the distinct top-level
// packages they import. Relative imports are skipped.
func ScanImports(dir string) ([]string, error) {
	seen := map[string]bool{}
	var packages []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !importPattern.MatchString(line) {
				continue
			}
			pkg := extractPackage(line)
			if pkg != "" && !seen[pkg] {
				seen[pkg] = true
				packages = append(packages, pkg)
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(packages)
	return packages, nil
}

func extractPackage(line string) string {
	switch {
	case strings.HasPrefix(line, "import "):
		rest := strings.TrimPrefix(line, "import ")
		return headSegment(rest)
	case strings.HasPrefix(line, "from "):
		rest := strings.TrimPrefix(line, "from ")
		return headSegment(rest)
	}
	return ""
}

// headSegment takes the leading package name: up to the first space, dot, or
// comma. Relative imports (leading dot) yield nothing.
func headSegment(s string) string {
	if s == "" || s[0] == '.' {
		return ""
	}
	end := len(s)
	for idx, r := range s {
		if r == ' ' || r == '.' || r == ',' {
			end = idx
			break
		}
	}
	return s[:end]
}

// NormalizeName maps a module name to its likely pip distribution name.
func NormalizeName(pkg string) string {
	return strings.ReplaceAll(pkg, "_", "-")
}
