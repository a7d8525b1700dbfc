package staging

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"simgateway/internal/apperrors"
	"simgateway/internal/remote"
)

// StagedFile is a local file and the directory, relative to the working
// directory, it is copied into under its own base name.
type StagedFile struct {
	LocalPath       string
	DestinationPath string
}

// RemotePath returns the absolute remote path of f under workingDir.
func (f StagedFile) RemotePath(workingDir string) string {
	return path.Join(workingDir, f.DestinationPath, filepath.Base(f.LocalPath))
}

// CreateWorkingDirectory issues mkdir -p for workingDir. Idempotent.
func CreateWorkingDirectory(ctx context.Context, s remote.Session, workingDir string) error {
	return runStep(ctx, s, "staging.mkdir", "mkdir -p "+remote.Quote(workingDir))
}

// TransferAll copies files in order into workingDir. The containing directory
// of each file is created at most once per call, and every copy has CRLF line
// endings stripped. The first failure aborts; files already copied stay.
func TransferAll(ctx context.Context, s remote.Session, workingDir string, files []StagedFile) error {
	created := make(map[string]bool)
	for _, f := range files {
		remotePath := f.RemotePath(workingDir)
		dir := path.Dir(remotePath)

		if !created[dir] {
			if err := runStep(ctx, s, "staging.mkdir", "mkdir -p "+remote.Quote(dir)); err != nil {
				return err
			}
			created[dir] = true
		}

		if err := s.Copy(ctx, f.LocalPath, remotePath); err != nil {
			return apperrors.Transfer("staging.copy", fmt.Errorf("%s: %w", remotePath, err))
		}

		if err := runStep(ctx, s, "staging.normalize", NormalizeCommand(remotePath)); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeCommand strips a trailing carriage return from every line in place.
func NormalizeCommand(remotePath string) string {
	return `sed -i 's/\r$//' ` + remote.Quote(remotePath)
}

// runStep runs an infrastructure command; a transport error or non-zero exit
// is a transfer failure.
func runStep(ctx context.Context, s remote.Session, op, command string) error {
	res, err := s.Run(ctx, command)
	if err != nil {
		return apperrors.Transfer(op, err)
	}
	if res.ExitCode != 0 {
		return apperrors.Transfer(op, fmt.Errorf("%q exited with status %d: %s",
			command, res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return nil
}
