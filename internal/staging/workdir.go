// Package staging renders a job's templates locally and copies every job file
// into the job's working directory on the compute host.
package staging

import (
	"path"
	"strings"
)

// WorkingDirectory returns the remote directory a job is staged into and run
// from: simulationRoot/<label>-<id>, with spaces in the label replaced by
// underscores. Every component derives the path through this function.
func WorkingDirectory(simulationRoot, caseLabel, jobID string) string {
	return path.Join(simulationRoot, strings.ReplaceAll(caseLabel, " ", "_")+"-"+jobID)
}
