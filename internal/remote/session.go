// Package remote opens sessions on the compute host and runs shell commands
// and file copies over them.
package remote

import (
	"context"
	"strings"
)

// Result is the verbatim outcome of one remote command.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Session is one authenticated channel to the compute host. It is used by a
// single logical operation and then closed; it is not safe for concurrent use.
type Session interface {
	// Run executes command through the remote shell and waits for it to exit.
	// A non-zero exit is reported in Result, not as an error.
	Run(ctx context.Context, command string) (*Result, error)

	// Copy uploads the local file to remotePath, whose directory must exist.
	Copy(ctx context.Context, localPath, remotePath string) error

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Dialer opens sessions. Every call yields a fresh session; nothing is pooled.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./_-", r):
		default:
			return false
		}
	}
	return true
}
