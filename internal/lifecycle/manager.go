package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"simgateway/internal/apperrors"
	"simgateway/internal/config"
	"simgateway/internal/job"
	"simgateway/internal/observability"
	"simgateway/internal/remote"
	"simgateway/internal/scheduler"
	"simgateway/internal/staging"
)

// Notifier is told about every persisted status change.
type Notifier interface {
	NotifyStatus(ctx context.Context, j *job.Job, from job.Status)
}

// Deps are the collaborators a Manager is built from. Dialer, Repository and
// Pipeline are required.
type Deps struct {
	Dialer     remote.Dialer
	Repository job.Repository
	Pipeline   *staging.Pipeline
	Patterns   scheduler.Patterns    // defaults to scheduler.DefaultPatterns
	Reconciler *scheduler.Reconciler // defaults to one built from RemoteConfig.StatusCommand
	Metrics    *observability.Metrics
	Notifier   Notifier
}

// Manager runs lifecycle operations against the configured compute host.
// Each operation opens its own remote sessions and closes them before
// returning. Operations on the same job ID are serialised.
type Manager struct {
	cfg        config.RemoteConfig
	dialer     remote.Dialer
	repo       job.Repository
	pipeline   *staging.Pipeline
	patterns   scheduler.Patterns
	reconciler *scheduler.Reconciler
	metrics    *observability.Metrics
	notifier   Notifier
	locks      *jobLocks
	logger     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg config.RemoteConfig, deps Deps) *Manager {
	patterns := deps.Patterns
	if len(patterns) == 0 {
		patterns = scheduler.DefaultPatterns
	}
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = scheduler.NewReconciler(cfg.StatusCommand)
	}
	return &Manager{
		cfg:        cfg,
		dialer:     deps.Dialer,
		repo:       deps.Repository,
		pipeline:   deps.Pipeline,
		patterns:   patterns,
		reconciler: reconciler,
		metrics:    deps.Metrics,
		notifier:   deps.Notifier,
		locks:      newJobLocks(),
		logger:     slog.With("component", "lifecycle"),
	}
}

// WorkingDirectory returns the remote directory j is staged into.
func (m *Manager) WorkingDirectory(j *job.Job) string {
	return staging.WorkingDirectory(m.cfg.SimulationRoot, j.CaseLabel(), j.ID)
}

// Setup renders templates, stages the working directory and runs the SETUP script.
func (m *Manager) Setup(ctx context.Context, j *job.Job) (*Outcome, error) {
	var out *Outcome
	err := m.do(ctx, j, job.ActionSetup, func(ctx context.Context) error {
		res, err := m.setup(ctx, j)
		if err != nil {
			return err
		}
		out = rawOutcome(res)
		return nil
	})
	return out, err
}

// Run performs a full Setup and then runs the RUN script. When stdout names
// a scheduler job, j is marked Queued with that backend identifier and
// persisted once, whatever its previous status.
func (m *Manager) Run(ctx context.Context, j *job.Job) (*Outcome, error) {
	var out *Outcome
	err := m.do(ctx, j, job.ActionRun, func(ctx context.Context) error {
		if _, err := m.setup(ctx, j); err != nil {
			return err
		}
		res, err := m.dispatch(ctx, j, job.ActionRun)
		if err != nil {
			return err
		}
		out = rawOutcome(res)

		id, pattern, ok := m.patterns.Match(res.Stdout)
		if !ok {
			m.logger.Info("No backend identifier in RUN output", "jobId", j.ID)
			return nil
		}
		m.logger.Info("Job submitted", "jobId", j.ID, "backendIdentifier", id, "pattern", pattern)
		prev := j.Status
		j.BackendIdentifier = id
		j.Status = job.StatusQueued
		return m.persist(ctx, j, prev)
	})
	return out, err
}

// Progress runs the PROGRESS script. It does not consult the scheduler.
func (m *Manager) Progress(ctx context.Context, j *job.Job) (*Outcome, error) {
	return m.dispatchOnly(ctx, j, job.ActionProgress, jsonOutcome)
}

// Cancel runs the CANCEL script.
func (m *Manager) Cancel(ctx context.Context, j *job.Job) (*Outcome, error) {
	return m.dispatchOnly(ctx, j, job.ActionCancel, rawOutcome)
}

// Data runs the DATA script.
func (m *Manager) Data(ctx context.Context, j *job.Job) (*Outcome, error) {
	return m.dispatchOnly(ctx, j, job.ActionData, jsonOutcome)
}

// RefreshStatus reconciles j against the scheduler queue and persists the
// new status when it changed. Stable statuses make no remote call.
func (m *Manager) RefreshStatus(ctx context.Context, j *job.Job) (*job.Job, error) {
	err := m.do(ctx, j, "STATUS", func(ctx context.Context) error {
		status, err := m.reconciler.Resolve(ctx, m.open, j)
		if err != nil {
			return asTransfer("scheduler.status", err)
		}
		if status == j.Status {
			return nil
		}
		prev := j.Status
		j.Status = status
		m.logger.Info("Job status changed", "jobId", j.ID, "from", prev, "to", status)
		return m.persist(ctx, j, prev)
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (m *Manager) dispatchOnly(ctx context.Context, j *job.Job, action job.Action, shape func(*remote.Result) *Outcome) (*Outcome, error) {
	var out *Outcome
	err := m.do(ctx, j, action, func(ctx context.Context) error {
		res, err := m.dispatch(ctx, j, action)
		if err != nil {
			return err
		}
		out = shape(res)
		return nil
	})
	return out, err
}

// do wraps one public operation with the per-job lock, the operation
// deadline, logging and metrics. Once the lock is held j is replaced with
// the stored copy, so a caller holding a copy read before another
// operation on the same job cannot write stale fields back.
func (m *Manager) do(ctx context.Context, j *job.Job, action job.Action, fn func(context.Context) error) error {
	unlock := m.locks.lock(j.ID)
	defer unlock()

	if err := m.reload(ctx, j); err != nil {
		return err
	}

	if m.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()
	}

	logger := m.logger.With("jobId", j.ID, "action", string(action))
	if m.metrics != nil {
		m.metrics.RecordActionStarted(ctx, string(action))
	}
	start := time.Now()

	err := fn(ctx)

	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordActionFinished(context.WithoutCancel(ctx), string(action), observability.OutcomeOf(err), elapsed.Seconds())
	}
	if err != nil {
		logger.Warn("Lifecycle action failed", "error", err, "duration", elapsed)
		return err
	}
	logger.Info("Lifecycle action completed", "duration", elapsed)
	return nil
}

// setup stages the working directory and dispatches SETUP. Each remote step
// gets its own session.
func (m *Manager) setup(ctx context.Context, j *job.Job) (*remote.Result, error) {
	plan, err := m.pipeline.Prepare(ctx, j)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := plan.Close(); err != nil {
			m.logger.Warn("Failed to remove scratch directory", "jobId", j.ID, "dir", plan.ScratchDir, "error", err)
		}
	}()

	wd := m.WorkingDirectory(j)
	if err := m.withSession(ctx, func(s remote.Session) error {
		return staging.CreateWorkingDirectory(ctx, s, wd)
	}); err != nil {
		return nil, err
	}
	if err := m.withSession(ctx, func(s remote.Session) error {
		return staging.TransferAll(ctx, s, wd, plan.Files)
	}); err != nil {
		return nil, err
	}
	return m.dispatch(ctx, j, job.ActionSetup)
}

// dispatch runs one action script in its own session. A missing script is
// reported before any session is opened.
func (m *Manager) dispatch(ctx context.Context, j *job.Job, action job.Action) (*remote.Result, error) {
	if _, ok := j.Script(action); !ok {
		return nil, apperrors.ActionNotFound(action.String())
	}
	var res *remote.Result
	err := m.withSession(ctx, func(s remote.Session) error {
		var err error
		res, err = Dispatch(ctx, s, j, m.WorkingDirectory(j), action)
		return err
	})
	return res, err
}

func (m *Manager) withSession(ctx context.Context, fn func(remote.Session) error) error {
	s, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			m.logger.Debug("Session close failed", "error", err)
		}
	}()
	return fn(s)
}

// open dials a fresh session. Any failure is RemoteUnavailable; nothing is retried.
func (m *Manager) open(ctx context.Context) (remote.Session, error) {
	s, err := m.dialer.Dial(ctx)
	if m.metrics != nil {
		m.metrics.RecordRemoteSession(ctx, err == nil)
	}
	if err != nil {
		m.logger.Error("Unable to open remote session", "host", m.cfg.Address(), "error", err)
		return nil, apperrors.RemoteUnavailable(m.cfg.Address(), err)
	}
	return s, nil
}

// reload overwrites j with the stored job. A job that is not stored is
// left as given; persist handles it vanishing.
func (m *Manager) reload(ctx context.Context, j *job.Job) error {
	stored, err := m.repo.Get(ctx, j.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Internal("lifecycle.reload", err)
	}
	*j = *stored
	return nil
}

// persist writes j back and announces the status change. A job deleted while
// the operation ran is logged and skipped: the remote side already acted.
func (m *Manager) persist(ctx context.Context, j *job.Job, prev job.Status) error {
	stored, err := m.repo.Update(ctx, j)
	if errors.Is(err, apperrors.ErrNotFound) {
		m.logger.Warn("Job vanished before status could be saved", "jobId", j.ID, "status", j.Status)
		return nil
	}
	if err != nil {
		return apperrors.Internal("lifecycle.persist", err)
	}
	if prev == stored.Status {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RecordStatusTransition(ctx, string(prev), string(stored.Status))
	}
	if m.notifier != nil {
		m.notifier.NotifyStatus(context.WithoutCancel(ctx), stored, prev)
	}
	return nil
}

// asTransfer keeps classified errors and marks the rest as failed remote steps.
func asTransfer(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Transfer(op, err)
}
