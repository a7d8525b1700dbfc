// Package scheduler interprets the remote batch scheduler: it recognises the
// job identifiers printed on submission and maps PBS/Torque queue-state
// letters onto job statuses.
package scheduler

import (
	"fmt"
	"regexp"
	"strings"

	"simgateway/internal/job"
	"simgateway/internal/remote"
)

// Pattern recognises one cluster's backend identifier format.
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// Patterns is an ordered list; the first pattern that matches wins.
type Patterns []Pattern

// DefaultPatterns covers the clusters currently in use. The expressions are
// provisional: nothing stops one cluster's output matching another's format.
var DefaultPatterns = Patterns{
	{Name: "imperial-cx1", Expr: regexp.MustCompile(`\d+\.cx1b`)},
	{Name: "azure-torque", Expr: regexp.MustCompile(`\d+\.science-gateway-cluster`)},
}

// Match returns the first identifier found in stdout and the name of the
// pattern that found it.
func (ps Patterns) Match(stdout string) (id, name string, ok bool) {
	for _, p := range ps {
		if m := p.Expr.FindString(stdout); m != "" {
			return m, p.Name, true
		}
	}
	return "", "", false
}

// ParsePatterns builds patterns from name=regexp pairs.
func ParsePatterns(specs []string) (Patterns, error) {
	ps := make(Patterns, 0, len(specs))
	for _, spec := range specs {
		name, expr, found := strings.Cut(spec, "=")
		if !found || name == "" || expr == "" {
			return nil, fmt.Errorf("backend pattern %q: want name=regexp", spec)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("backend pattern %q: %w", name, err)
		}
		ps = append(ps, Pattern{Name: name, Expr: re})
	}
	return ps, nil
}

// MapQueueState maps a single PBS/Torque job_state letter.
func MapQueueState(code string) (job.Status, bool) {
	switch code {
	case "Q", "W":
		return job.StatusQueued, true
	case "R":
		return job.StatusRunning, true
	case "C":
		return job.StatusComplete, true
	}
	return "", false
}

// DefaultStatusCommand prints the job_state letter of a job, or nothing once
// the scheduler has forgotten it. %s is replaced by the quoted identifier.
const DefaultStatusCommand = `qstat -x %s 2>/dev/null | grep -o '<job_state>.</job_state>' | cut -c12`

// StatusCommand renders template (DefaultStatusCommand when empty) for backendID.
func StatusCommand(template, backendID string) string {
	if template == "" {
		template = DefaultStatusCommand
	}
	return fmt.Sprintf(template, remote.Quote(backendID))
}
