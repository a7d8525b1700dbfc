package job

import "context"

// Repository persists jobs. The execution core borrows a loaded *Job for the
// duration of one operation and writes status changes back through Update;
// it never owns persistence itself.
type Repository interface {
	// Create stores a new job. An empty ID is replaced with a fresh UUID and
	// an empty status defaults to New. Returns a conflict error if the ID exists.
	Create(ctx context.Context, j *Job) (*Job, error)

	// Get returns the job or a not found error.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns every stored job ordered by ID.
	List(ctx context.Context) ([]*Job, error)

	// Update replaces the stored job and returns the stored copy.
	// Returns a not found error if the job no longer exists.
	Update(ctx context.Context, j *Job) (*Job, error)

	// Delete removes a job. Returns a not found error if it does not exist.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a job with id is stored.
	Exists(ctx context.Context, id string) (bool, error)
}
