package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"simgateway/internal/apperrors"
	"simgateway/internal/job"
)

// Memory is a job repository held in process memory. Jobs are cloned on the
// way in and out, so callers never share state with the map.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*job.Job),
	}
}

var _ job.Repository = (*Memory)(nil)

// Create stores a new job, assigning an ID and default status when missing.
func (m *Memory) Create(_ context.Context, j *job.Job) (*job.Job, error) {
	stored := prepareNew(j)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[stored.ID]; exists {
		return nil, apperrors.Conflict("job", stored.ID, "job already exists")
	}
	m.jobs[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the stored job.
func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return j.Clone(), nil
}

// List returns copies of all jobs ordered by ID.
func (m *Memory) List(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result, nil
}

// Update replaces an existing job.
func (m *Memory) Update(_ context.Context, j *job.Job) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return nil, apperrors.NotFound("job", j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	return j.Clone(), nil
}

// Delete removes a job.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return apperrors.NotFound("job", id)
	}
	delete(m.jobs, id)
	return nil
}

// Exists reports whether the job is stored.
func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.jobs[id]
	return ok, nil
}

// prepareNew clones j and fills in the defaults applied on create.
func prepareNew(j *job.Job) *job.Job {
	stored := j.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = job.StatusNew
	}
	return stored
}

// Ready always succeeds; an in-process map has nothing to connect to.
func (m *Memory) Ready(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
