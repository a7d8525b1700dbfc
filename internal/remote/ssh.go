package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"simgateway/internal/config"
)

// SSHDialer opens SSH sessions to the configured compute host.
type SSHDialer struct {
	cfg    config.RemoteConfig
	logger *slog.Logger

	// agentSocket is read from SSH_AUTH_SOCK at construction.
	agentSocket string
}

// NewSSHDialer validates the key material up front so a broken key fails at
// startup rather than on the first request.
func NewSSHDialer(cfg config.RemoteConfig) (*SSHDialer, error) {
	d := &SSHDialer{
		cfg:         cfg,
		logger:      slog.With("component", "remote.ssh", "host", cfg.Address()),
		agentSocket: os.Getenv("SSH_AUTH_SOCK"),
	}
	if cfg.PrivateKey != "" {
		if _, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey)); err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}
	if cfg.PrivateKey == "" && d.agentSocket == "" {
		return nil, errors.New("no ssh credentials: set remote.private_key, remote.private_key_path or SSH_AUTH_SOCK")
	}
	if cfg.KnownHostsPath != "" {
		if _, err := knownhosts.New(cfg.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}
	return d, nil
}

// Dial connects and authenticates. It makes exactly one attempt.
func (d *SSHDialer) Dial(ctx context.Context) (Session, error) {
	clientCfg, agentConn, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	closeAgent := func() {
		if agentConn != nil {
			_ = agentConn.Close()
		}
	}

	addr := d.cfg.Address()
	netDialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake has no context parameter; bound it with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if d.cfg.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.cfg.ConnectTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{
		client:    ssh.NewClient(c, chans, reqs),
		agentConn: agentConn,
	}, nil
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, net.Conn, error) {
	var auth []ssh.AuthMethod
	var agentConn net.Conn

	if d.cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(d.cfg.PrivateKey))
		if err != nil {
			return nil, nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.agentSocket != "" {
		conn, err := net.Dial("unix", d.agentSocket)
		if err != nil {
			d.logger.Warn("SSH agent unavailable", "error", err)
		} else {
			agentConn = conn
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(auth) == 0 {
		return nil, nil, errors.New("no usable ssh authentication method")
	}

	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		if agentConn != nil {
			_ = agentConn.Close()
		}
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            d.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         d.cfg.ConnectTimeout,
	}, agentConn, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(d.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		return cb, nil
	}
	logger := d.logger
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		logger.Warn("Accepting unverified host key", "hostname", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}, nil
}

type sshSession struct {
	client    *ssh.Client
	agentConn net.Conn

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error

	closeOnce sync.Once
	closeErr  error
}

func (s *sshSession) Run(ctx context.Context, command string) (*Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	return nil, fmt.Errorf("run remote command: %w", err)
}

func (s *sshSession) Copy(ctx context.Context, localPath, remotePath string) error {
	s.sftpOnce.Do(func() {
		s.sftp, s.sftpErr = sftp.NewClient(s.client)
	})
	if s.sftpErr != nil {
		return fmt.Errorf("open sftp: %w", s.sftpErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	if err := s.sftp.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", remotePath, err)
	}
	return nil
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		if s.sftp != nil {
			_ = s.sftp.Close()
		}
		s.closeErr = s.client.Close()
		if s.agentConn != nil {
			_ = s.agentConn.Close()
		}
	})
	return s.closeErr
}
