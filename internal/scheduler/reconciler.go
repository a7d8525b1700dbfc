package scheduler

import (
	"context"
	"log/slog"
	"strings"

	"simgateway/internal/job"
	"simgateway/internal/remote"
)

// Reconciler resolves a job's status against the scheduler's queue.
type Reconciler struct {
	statusCommand string
}

// NewReconciler creates a Reconciler. An empty command uses DefaultStatusCommand.
func NewReconciler(statusCommand string) *Reconciler {
	return &Reconciler{statusCommand: statusCommand}
}

// NeedsQuery reports whether Resolve would contact the scheduler for j.
// Stable and unrecognised statuses are never queried, nor is a job that
// never received a backend identifier.
func (r *Reconciler) NeedsQuery(j *job.Job) bool {
	switch {
	case j.Status.Stable():
		return false
	case !j.Status.Submitted():
		// Unrecognised status: leave it for whoever set it.
		return false
	}
	return j.BackendIdentifier != ""
}

// Resolve returns the status j should have. open is only called when a query
// is needed; the session it returns is closed before Resolve returns.
//
// An empty answer from a job the scheduler had accepted means the record was
// evicted after completion, so it resolves to Complete. An unknown letter
// leaves the status unchanged.
func (r *Reconciler) Resolve(ctx context.Context, open func(context.Context) (remote.Session, error), j *job.Job) (job.Status, error) {
	if !r.NeedsQuery(j) {
		return j.Status, nil
	}

	s, err := open(ctx)
	if err != nil {
		return j.Status, err
	}
	defer s.Close()

	res, err := s.Run(ctx, StatusCommand(r.statusCommand, j.BackendIdentifier))
	if err != nil {
		return j.Status, err
	}

	code := strings.TrimSpace(res.Stdout)
	if status, ok := MapQueueState(code); ok {
		return status, nil
	}
	if code == "" {
		return job.StatusComplete, nil
	}
	slog.Warn("Unrecognised queue state", "jobId", j.ID, "backendIdentifier", j.BackendIdentifier, "state", code)
	return j.Status, nil
}
