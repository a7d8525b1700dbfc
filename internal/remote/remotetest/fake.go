// Package remotetest provides an in-memory remote.Dialer that records every
// command and copy for assertions.
package remotetest

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"simgateway/internal/remote"
)

// Call is one recorded session interaction.
type Call struct {
	Command    string // set for Run
	LocalPath  string // set for Copy
	RemotePath string // set for Copy
}

// IsCopy reports whether the call was a file copy.
func (c Call) IsCopy() bool {
	return c.RemotePath != ""
}

// Rule scripts the response to any command containing Contains.
type Rule struct {
	Contains string
	Result   remote.Result
	Err      error
}

// Dialer is a scripted fake. The zero value is not usable; call NewDialer.
type Dialer struct {
	// DialErr, when set, fails every Dial.
	DialErr error
	// CopyErr, when set, is consulted for every copy.
	CopyErr func(remotePath string) error

	mu     sync.Mutex
	rules  []Rule
	dials  int
	closes int
	calls  []Call
	files  map[string][]byte
}

// NewDialer returns a fake whose commands succeed with empty output unless a
// rule matches. Rules are tried in order.
func NewDialer(rules ...Rule) *Dialer {
	return &Dialer{
		rules: rules,
		files: make(map[string][]byte),
	}
}

// Failing returns a fake whose every Dial fails.
func Failing() *Dialer {
	d := NewDialer()
	d.DialErr = errors.New("dial tcp: connection refused")
	return d
}

// Dial implements remote.Dialer.
func (d *Dialer) Dial(ctx context.Context) (remote.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{d: d}, nil
}

// Dials returns how many sessions were requested.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Closes returns how many sessions were closed.
func (d *Dialer) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Calls returns every recorded interaction in order.
func (d *Dialer) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Commands returns the commands run, in order.
func (d *Dialer) Commands() []string {
	var cmds []string
	for _, c := range d.Calls() {
		if !c.IsCopy() {
			cmds = append(cmds, c.Command)
		}
	}
	return cmds
}

// Copies returns the copies made, in order.
func (d *Dialer) Copies() []Call {
	var copies []Call
	for _, c := range d.Calls() {
		if c.IsCopy() {
			copies = append(copies, c)
		}
	}
	return copies
}

// File returns the content uploaded to remotePath.
func (d *Dialer) File(remotePath string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[remotePath]
	return b, ok
}

type session struct {
	d      *Dialer
	closed bool
}

func (s *session) Run(ctx context.Context, command string) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	s.d.calls = append(s.d.calls, Call{Command: command})
	for _, r := range s.d.rules {
		if strings.Contains(command, r.Contains) {
			if r.Err != nil {
				return nil, r.Err
			}
			res := r.Result
			return &res, nil
		}
	}
	return &remote.Result{}, nil
}

func (s *session) Copy(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.d.calls = append(s.d.calls, Call{LocalPath: localPath, RemotePath: remotePath})
	if s.d.CopyErr != nil {
		if err := s.d.CopyErr(remotePath); err != nil {
			return err
		}
	}
	s.d.files[remotePath] = data
	return nil
}

func (s *session) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.d.closes++
	}
	return nil
}
