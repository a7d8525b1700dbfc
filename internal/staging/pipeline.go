package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"simgateway/internal/apperrors"
	"simgateway/internal/job"
	"simgateway/internal/render"
	"simgateway/internal/source"
)

// Pipeline prepares the local side of staging: fetching sources and rendering
// templates into a scratch directory private to one operation.
type Pipeline struct {
	resolver    *source.Resolver
	scratchRoot string
}

// NewPipeline creates a Pipeline. An empty scratchRoot uses the OS temp dir.
func NewPipeline(resolver *source.Resolver, scratchRoot string) *Pipeline {
	return &Pipeline{
		resolver:    resolver,
		scratchRoot: scratchRoot,
	}
}

// Plan is the ordered file set for one staging run: scripts, then inputs,
// then rendered templates. Close removes its scratch directory.
type Plan struct {
	Files      []StagedFile
	ScratchDir string
}

// Close removes the scratch directory.
func (p *Plan) Close() error {
	if p == nil || p.ScratchDir == "" {
		return nil
	}
	return os.RemoveAll(p.ScratchDir)
}

// Prepare renders templates and resolves scripts and inputs to local files.
// It has no remote side effects and can be retried freely.
func (p *Pipeline) Prepare(ctx context.Context, j *job.Job) (*Plan, error) {
	if p.scratchRoot != "" {
		if err := os.MkdirAll(p.scratchRoot, 0o755); err != nil {
			return nil, apperrors.Internal("staging.scratch", err)
		}
	}
	dir, err := os.MkdirTemp(p.scratchRoot, "stage-"+j.ID+"-")
	if err != nil {
		return nil, apperrors.Internal("staging.scratch", err)
	}
	plan := &Plan{ScratchDir: dir}

	templates, err := p.StageTemplates(ctx, j, dir)
	if err != nil {
		_ = plan.Close()
		return nil, err
	}

	files, err := p.resolveFiles(ctx, j, dir)
	if err != nil {
		_ = plan.Close()
		return nil, err
	}

	plan.Files = append(files, templates...)
	slog.Debug("Staging plan prepared", "jobId", j.ID, "files", len(plan.Files), "templates", len(templates))
	return plan, nil
}

// StageTemplates renders every template into scratchDir/rendered/<destination>/<basename>.
func (p *Pipeline) StageTemplates(ctx context.Context, j *job.Job, scratchDir string) ([]StagedFile, error) {
	params := j.Parameters()
	fetchDir := filepath.Join(scratchDir, "sources", "templates")

	staged := make([]StagedFile, 0, len(j.Templates))
	for _, t := range j.Templates {
		src, err := p.resolver.Fetch(ctx, t.SourceURI, fetchDir)
		if err != nil {
			return nil, apperrors.Render(t.SourceURI, err)
		}
		dest := filepath.Join(scratchDir, "rendered", filepath.FromSlash(t.DestinationPath), filepath.Base(src))
		if err := render.Render(src, params, dest); err != nil {
			return nil, err
		}
		staged = append(staged, StagedFile{LocalPath: dest, DestinationPath: t.DestinationPath})
	}
	return staged, nil
}

// resolveFiles fetches scripts and expands inputs, in that order.
func (p *Pipeline) resolveFiles(ctx context.Context, j *job.Job, scratchDir string) ([]StagedFile, error) {
	var files []StagedFile

	scriptDir := filepath.Join(scratchDir, "sources", "scripts")
	for _, s := range j.Scripts {
		local, err := p.resolver.Fetch(ctx, s.SourceURI, scriptDir)
		if err != nil {
			return nil, apperrors.Transfer("staging.resolve", fmt.Errorf("%s script %s: %w", s.Action, s.SourceURI, err))
		}
		files = append(files, StagedFile{LocalPath: local, DestinationPath: s.DestinationPath})
	}

	inputDir := filepath.Join(scratchDir, "sources", "inputs")
	for _, in := range j.Inputs {
		locals, err := p.resolver.Expand(ctx, in.SourceURI, inputDir)
		if err != nil {
			return nil, apperrors.Transfer("staging.resolve", fmt.Errorf("input %s: %w", in.SourceURI, err))
		}
		for _, local := range locals {
			files = append(files, StagedFile{LocalPath: local, DestinationPath: in.DestinationPath})
		}
	}
	return files, nil
}
