package crontab

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Source reads and writes the raw text of a single cron table. Mutations in
// the store go through one Read followed by one Write, so a Source is the
// transaction boundary against the host schedule.
type Source interface {
	Read() (string, error)
	Write(content string) error
}

// SystemSource talks to the host cron table through the crontab binary.
// With an empty user it operates on the invoking user's table.
type SystemSource struct {
	User string
}

func (s *SystemSource) Read() (string, error) {
	args := []string{"-l"}
	if s.User != "" {
		args = append(args, "-u", s.User)
	}
	cmd := exec.Command("crontab", args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		// An absent table is not an error; crontab -l exits non-zero with
		// "no crontab for <user>" on stderr.
		if strings.Contains(errOut.String(), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l: %w: %s", err, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}

func (s *SystemSource) Write(content string) error {
	args := []string{}
	if s.User != "" {
		args = append(args, "-u", s.User)
	}
	args = append(args, "-")
	cmd := exec.Command("crontab", args...)
	cmd.Stdin = strings.NewReader(content)
	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("crontab install: %w: %s", err, strings.TrimSpace(errOut.String()))
	}
	return nil
}

// MemorySource holds a cron table in memory. It backs tests and dry runs.
type MemorySource struct {
	mu      sync.Mutex
	content string
}

func (m *MemorySource) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

func (m *MemorySource) Write(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	return nil
}
