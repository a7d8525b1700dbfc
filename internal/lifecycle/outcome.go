package lifecycle

import (
	"encoding/json"
	"net/http"
	"strings"

	"simgateway/internal/remote"
)

// Outcome is what a lifecycle operation returns to its caller. Stdout holds
// the raw string, or for PROGRESS and DATA the decoded JSON document when
// the script printed one.
type Outcome struct {
	Stdout   any    `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// HTTPStatus is always 200: the script ran, whatever its exit code.
func (o *Outcome) HTTPStatus() int {
	return http.StatusOK
}

func rawOutcome(res *remote.Result) *Outcome {
	return &Outcome{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
}

// jsonOutcome substitutes decoded JSON for non-empty stdout. Output that is
// not valid JSON is passed through unchanged.
func jsonOutcome(res *remote.Result) *Outcome {
	out := rawOutcome(res)
	if strings.TrimSpace(res.Stdout) == "" {
		return out
	}
	var doc any
	if err := json.Unmarshal([]byte(res.Stdout), &doc); err != nil {
		return out
	}
	out.Stdout = doc
	return out
}
