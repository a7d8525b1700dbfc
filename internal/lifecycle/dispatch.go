// Package lifecycle executes job actions on the compute host: staging the
// working directory, dispatching action scripts and reconciling status.
package lifecycle

import (
	"context"
	"fmt"
	"path"

	"simgateway/internal/apperrors"
	"simgateway/internal/job"
	"simgateway/internal/remote"
	"simgateway/internal/source"
)

// ScriptCommand is the shell line that runs script from workingDir.
func ScriptCommand(workingDir string, script job.Script) string {
	rel := path.Join(script.DestinationPath, source.BaseName(script.SourceURI))
	return fmt.Sprintf("cd %s; bash %s", remote.Quote(workingDir), remote.Quote(rel))
}

// Dispatch runs the first script tagged with action inside workingDir and
// returns its output verbatim. A job without such a script fails before
// anything is sent to s. Exit codes are not interpreted.
func Dispatch(ctx context.Context, s remote.Session, j *job.Job, workingDir string, action job.Action) (*remote.Result, error) {
	script, ok := j.Script(action)
	if !ok {
		return nil, apperrors.ActionNotFound(action.String())
	}

	res, err := s.Run(ctx, ScriptCommand(workingDir, script))
	if err != nil {
		return nil, apperrors.Transfer("dispatch."+string(action), err)
	}
	return res, nil
}
