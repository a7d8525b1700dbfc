package remote

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"simgateway/internal/config"
)

// DockerDialer targets a long-running container that stands in for a compute
// host, such as a single-node PBS image on a development machine.
type DockerDialer struct {
	client    *client.Client
	container string
}

// NewDockerDialer connects to the Docker daemon from the environment.
func NewDockerDialer(cfg config.RemoteConfig) (*DockerDialer, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerDialer{
		client:    dockerClient,
		container: cfg.Container,
	}, nil
}

// Dial checks that the target container is running. The Docker API is
// stateless HTTP, so the session only carries the container reference.
func (d *DockerDialer) Dial(ctx context.Context) (Session, error) {
	inspect, err := d.client.ContainerInspect(ctx, d.container)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", d.container, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return nil, fmt.Errorf("container %s is not running", d.container)
	}
	return &dockerSession{client: d.client, container: inspect.ID}, nil
}

// Close releases the Docker client.
func (d *DockerDialer) Close() error {
	return d.client.Close()
}

type dockerSession struct {
	client    *client.Client
	container string
	closed    bool
}

func (s *dockerSession) Run(ctx context.Context, command string) (*Result, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	exec, err := s.client.ContainerExecCreate(ctx, s.container, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := s.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-copyDone:
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	}

	inspect, err := s.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (s *dockerSession) Copy(ctx context.Context, localPath, remotePath string) error {
	if s.closed {
		return fmt.Errorf("session closed")
	}
	archive, err := tarFile(localPath, path.Base(remotePath))
	if err != nil {
		return err
	}
	if err := s.client.CopyToContainer(ctx, s.container, path.Dir(remotePath), archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to %s: %w", remotePath, err)
	}
	return nil
}

func (s *dockerSession) Close() error {
	s.closed = true
	return nil
}

// tarFile wraps one local file in an archive entry named name.
func tarFile(localPath, name string) (io.Reader, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
