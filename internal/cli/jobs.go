package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"simgateway/internal/apperrors"
	"simgateway/internal/job"
	"simgateway/internal/store"
)

// workspace is where a command finds its jobs: a store on disk, or a single
// YAML job file loaded into memory and written back when it changes.
type workspace struct {
	repo store.Store

	filePath string
	fileJob  *job.Job
	// dirty is set when loading changed the document, e.g. by assigning an ID.
	dirty bool
}

func (o *options) openWorkspace(ctx context.Context) (*workspace, error) {
	if o.filePath != "" {
		j, err := readJobFile(o.filePath)
		if err != nil {
			return nil, err
		}
		repo := store.NewMemory()
		stored, err := repo.Create(ctx, j)
		if err != nil {
			return nil, err
		}
		return &workspace{
			repo:     repo,
			filePath: o.filePath,
			fileJob:  stored,
			dirty:    j.ID == "" || j.Status == "",
		}, nil
	}
	if o.dbPath == "" {
		return nil, errNoStore
	}
	repo, err := store.OpenSQLite(ctx, o.dbPath)
	if err != nil {
		return nil, err
	}
	return &workspace{repo: repo}, nil
}

// resolve returns the job named by args, or the file's job when args is empty.
func (w *workspace) resolve(ctx context.Context, args []string) (*job.Job, error) {
	if w.fileJob != nil {
		if len(args) > 0 && args[0] != w.fileJob.ID {
			return nil, fmt.Errorf("job %s is not the job in %s (%s)", args[0], w.filePath, w.fileJob.ID)
		}
		return w.repo.Get(ctx, w.fileJob.ID)
	}
	if len(args) == 0 {
		return nil, errors.New("job ID is required")
	}
	return w.repo.Get(ctx, args[0])
}

// close writes the file's job back if its tracked state changed.
func (w *workspace) close(ctx context.Context) error {
	defer w.repo.Close()
	if w.fileJob == nil {
		return nil
	}
	current, err := w.repo.Get(ctx, w.fileJob.ID)
	if err != nil {
		return err
	}
	if !w.dirty && current.Status == w.fileJob.Status && current.BackendIdentifier == w.fileJob.BackendIdentifier {
		return nil
	}
	return writeJobFile(w.filePath, current)
}

func readJobFile(path string) (*job.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, apperrors.Validation("file", fmt.Sprintf("%s is not a valid job document: %v", path, err))
	}
	if err := job.Validate(&j); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &j, nil
}

// writeJobFile replaces path atomically.
func writeJobFile(path string, j *job.Job) error {
	data, err := yaml.Marshal(j)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
