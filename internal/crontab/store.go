// Package crontab provides label-keyed CRUD over a host cron table.
//
// Each managed entry carries a trailing "# <label>" comment. The label is
// the only correlation key: at most one job per label exists at any time,
// and replacing a job always rewrites the whole line rather than merging
// fields into the old one.
package crontab

import (
	"fmt"
	"strings"
)

// Job is a single managed cron table entry.
type Job struct {
	Schedule string
	Command  string
	Label    string
}

// Line renders the job as one crontab line.
func (j Job) Line() string {
	return fmt.Sprintf("%s %s # %s", j.Schedule, j.Command, j.Label)
}

// parseLine splits a crontab line into a labeled job. Lines without a
// trailing label comment, blank lines, and full-line comments yield ok=false
// and are preserved verbatim by mutations.
func parseLine(line string) (Job, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Job{}, false
	}
	idx := strings.LastIndex(trimmed, " # ")
	if idx < 0 {
		return Job{}, false
	}
	label := strings.TrimSpace(trimmed[idx+3:])
	rest := strings.TrimSpace(trimmed[:idx])
	if label == "" || rest == "" {
		return Job{}, false
	}

	var schedule, command string
	if strings.HasPrefix(rest, "@") {
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return Job{}, false
		}
		schedule, command = parts[0], strings.TrimSpace(parts[1])
	} else {
		fields := strings.Fields(rest)
		if len(fields) < 6 {
			return Job{}, false
		}
		schedule = strings.Join(fields[:5], " ")
		command = strings.Join(fields[5:], " ")
	}
	if command == "" {
		return Job{}, false
	}
	return Job{Schedule: schedule, Command: command, Label: label}, true
}

// Store implements find/upsert/remove over a cron table Source.
type Store struct {
	src Source
}

func New(src Source) *Store {
	return &Store{src: src}
}

// Find returns the job labeled label, or nil when no such entry exists.
func (s *Store) Find(label string) (*Job, error) {
	content, err := s.src.Read()
	if err != nil {
		return nil, err
	}
	for _, line := range splitLines(content) {
		if job, ok := parseLine(line); ok && job.Label == label {
			return &job, nil
		}
	}
	return nil, nil
}

// Jobs lists every labeled entry in the table.
func (s *Store) Jobs() ([]Job, error) {
	content, err := s.src.Read()
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, line := range splitLines(content) {
		if job, ok := parseLine(line); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Upsert installs a job under label, replacing any existing entry with that
// label. The read-modify-write happens against one Source transaction, so a
// reader never observes a half-written job.
func (s *Store) Upsert(label, command, schedule string) error {
	content, err := s.src.Read()
	if err != nil {
		return err
	}
	lines := withoutLabel(splitLines(content), label)
	lines = append(lines, Job{Schedule: schedule, Command: command, Label: label}.Line())
	return s.src.Write(joinLines(lines))
}

// Remove deletes the job labeled label. Removing an absent label is a no-op.
func (s *Store) Remove(label string) error {
	content, err := s.src.Read()
	if err != nil {
		return err
	}
	lines := splitLines(content)
	kept := withoutLabel(lines, label)
	if len(kept) == len(lines) {
		return nil
	}
	return s.src.Write(joinLines(kept))
}

func withoutLabel(lines []string, label string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if job, ok := parseLine(line); ok && job.Label == label {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func splitLines(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	return lines
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
