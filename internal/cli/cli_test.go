package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"simgateway/internal/apperrors"
	"simgateway/internal/config"
	"simgateway/internal/job"
	"simgateway/internal/remote"
	"simgateway/internal/remote/remotetest"
	"simgateway/internal/store"
)

// These tests share slog's default logger through PersistentPreRun, so they
// do not run in parallel.

func execute(t *testing.T, d *remotetest.Dialer, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(func(config.RemoteConfig) (remote.Dialer, error) {
		return d, nil
	})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type env struct {
	dir    string
	config string
	file   string
	db     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:    dir,
		config: filepath.Join(dir, "gateway.yaml"),
		file:   filepath.Join(dir, "job.yaml"),
		db:     filepath.Join(dir, "jobs.db"),
	}
	require.NoError(t, os.WriteFile(e.config, []byte(
		"remote:\n  simulation_root: /scratch/sims\nservice:\n  scratch_dir: "+filepath.Join(dir, "scratch")+"\n"), 0o644))

	var scripts []job.Script
	for _, a := range []job.Action{job.ActionSetup, job.ActionRun, job.ActionProgress} {
		p := filepath.Join(dir, "scripts", string(a)+".sh")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("echo "+string(a)+"\n"), 0o644))
		scripts = append(scripts, job.Script{Action: a, SourceURI: p, DestinationPath: "scripts"})
	}
	writeYAML(t, e.file, &job.Job{
		ID:      "j1",
		Status:  job.StatusNew,
		Case:    &job.CaseSummary{ID: "c1", Label: "Pipe Flow"},
		Scripts: scripts,
	})
	return e
}

func writeYAML(t *testing.T, path string, j *job.Job) {
	t.Helper()
	data, err := yaml.Marshal(j)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readYAML(t *testing.T, path string) *job.Job {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var j job.Job
	require.NoError(t, yaml.Unmarshal(data, &j))
	return &j
}

func TestRun_FileIsRewritten(t *testing.T) {
	e := newEnv(t)
	d := remotetest.NewDialer(remotetest.Rule{
		Contains: "RUN.sh",
		Result:   remote.Result{Stdout: "5305301.cx1b\n"},
	})

	out, err := execute(t, d, "run", "--config", e.config, "--file", e.file)
	require.NoError(t, err)

	var outcome struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exit_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "5305301.cx1b\n", outcome.Stdout)

	j := readYAML(t, e.file)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Equal(t, "5305301.cx1b", j.BackendIdentifier)
	assert.Contains(t, d.Commands(), "mkdir -p /scratch/sims/Pipe_Flow-j1")
}

func TestProgress_FileUntouched(t *testing.T) {
	e := newEnv(t)
	before, err := os.ReadFile(e.file)
	require.NoError(t, err)

	d := remotetest.NewDialer(remotetest.Rule{
		Contains: "PROGRESS.sh",
		Result:   remote.Result{Stdout: `{"step": 12}`},
	})
	out, err := execute(t, d, "progress", "j1", "--config", e.config, "--file", e.file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stdout": {"step": 12}, "stderr": "", "exit_code": 0}`, out)

	after, err := os.ReadFile(e.file)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFile_JobIDMismatch(t *testing.T) {
	e := newEnv(t)
	d := remotetest.NewDialer()

	_, err := execute(t, d, "progress", "other", "--config", e.config, "--file", e.file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not the job in")
	assert.Zero(t, d.Dials())
}

func TestMissingScript(t *testing.T) {
	e := newEnv(t)
	d := remotetest.NewDialer()

	_, err := execute(t, d, "cancel", "--config", e.config, "--file", e.file)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrActionNotFound), "got %v", err)
	assert.Zero(t, d.Dials())
}

func TestImportListWorkdir(t *testing.T) {
	e := newEnv(t)
	d := remotetest.NewDialer()

	out, err := execute(t, d, "import", e.file, "--config", e.config, "--db", e.db)
	require.NoError(t, err)
	var imported job.Job
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, "j1", imported.ID)
	assert.NotNil(t, imported.CreationDatetime)

	_, err = execute(t, d, "import", e.file, "--config", e.config, "--db", e.db)
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "got %v", err)

	out, err = execute(t, d, "list", "--config", e.config, "--db", e.db)
	require.NoError(t, err)
	var jobs []job.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)

	out, err = execute(t, d, "workdir", "j1", "--config", e.config, "--db", e.db)
	require.NoError(t, err)
	assert.Equal(t, "/scratch/sims/Pipe_Flow-j1", strings.TrimSpace(out))

	_, err = execute(t, d, "workdir", "missing", "--config", e.config, "--db", e.db)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "got %v", err)
	assert.Zero(t, d.Dials())
}

func TestList_Empty(t *testing.T) {
	e := newEnv(t)
	out, err := execute(t, remotetest.NewDialer(), "list", "--config", e.config, "--db", e.db)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestStatus_ReconcilesStoredJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	repo, err := store.OpenSQLite(ctx, e.db)
	require.NoError(t, err)
	j := readYAML(t, e.file)
	j.Status = job.StatusQueued
	j.BackendIdentifier = "88.pbs"
	_, err = repo.Create(ctx, j)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	d := remotetest.NewDialer(remotetest.Rule{Contains: "qstat", Result: remote.Result{Stdout: "R\n"}})
	out, err := execute(t, d, "status", "j1", "--config", e.config, "--db", e.db)
	require.NoError(t, err)

	var refreshed job.Job
	require.NoError(t, json.Unmarshal([]byte(out), &refreshed))
	assert.Equal(t, job.StatusRunning, refreshed.Status)
	assert.Equal(t, 1, d.Dials())

	repo, err = store.OpenSQLite(ctx, e.db)
	require.NoError(t, err)
	defer repo.Close()
	stored, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, stored.Status)
}

func TestUsageErrors(t *testing.T) {
	e := newEnv(t)
	d := remotetest.NewDialer()

	_, err := execute(t, d, "run", "j1", "--config", e.config)
	assert.ErrorIs(t, err, errNoStore)

	_, err = execute(t, d, "import", e.file, "--config", e.config, "--file", e.file)
	assert.Error(t, err)

	_, err = execute(t, d, "run", "--config", e.config, "--db", e.db)
	assert.EqualError(t, err, "job ID is required")

	_, err = execute(t, d, "import", "--config", e.config, "--db", e.db)
	assert.Error(t, err, "import needs a file argument")
}

func TestFile_AssignedIDIsPersisted(t *testing.T) {
	e := newEnv(t)
	j := readYAML(t, e.file)
	j.ID = ""
	j.Status = ""
	writeYAML(t, e.file, j)

	out, err := execute(t, remotetest.NewDialer(), "workdir", "--config", e.config, "--file", e.file)
	require.NoError(t, err)

	saved := readYAML(t, e.file)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, job.StatusNew, saved.Status)
	assert.Equal(t, "/scratch/sims/Pipe_Flow-"+saved.ID, strings.TrimSpace(out))
}
