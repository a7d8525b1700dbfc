package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Service.Port)
	assert.Equal(t, "9090", cfg.Service.MetricsPort)
	assert.Equal(t, 5*time.Second, cfg.Service.ShutdownDrainWait)
	assert.Equal(t, "info", cfg.Service.LogLevel)

	assert.Equal(t, TransportSSH, cfg.Remote.Transport)
	assert.Equal(t, "test_host", cfg.Remote.Host)
	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, "test_user", cfg.Remote.Username)
	assert.Equal(t, "/home/test_user", cfg.Remote.SimulationRoot)
	assert.Equal(t, 10*time.Second, cfg.Remote.ConnectTimeout)
	assert.Zero(t, cfg.Remote.OperationTimeout)
	assert.Equal(t, "test_host:22", cfg.Remote.Address())
	assert.NoError(t, cfg.Remote.Validate())

	assert.Equal(t, 10000, cfg.Notify.BufferSize)
	assert.Equal(t, 10, cfg.Notify.Workers)
	assert.Equal(t, 10*time.Second, cfg.Notify.HTTPTimeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GATEWAY_REMOTE_HOST", "login.cx1.example.ac.uk")
	t.Setenv("GATEWAY_REMOTE_PORT", "2222")
	t.Setenv("GATEWAY_REMOTE_OPERATION_TIMEOUT", "90s")
	t.Setenv("GATEWAY_STORAGE_S3_FORCE_PATH_STYLE", "true")
	t.Setenv("GATEWAY_NOTIFY_WORKERS", "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "login.cx1.example.ac.uk", cfg.Remote.Host)
	assert.Equal(t, 2222, cfg.Remote.Port)
	assert.Equal(t, 90*time.Second, cfg.Remote.OperationTimeout)
	assert.True(t, cfg.Storage.S3ForcePathStyle)
	assert.Equal(t, 3, cfg.Notify.Workers)
}

func TestLoad_FileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api_key")
	require.NoError(t, os.WriteFile(keyFile, []byte("s3cret\n"), 0o600))

	cfgFile := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
service:
  port: "8181"
  api_key_file: `+keyFile+`
remote:
  transport: docker
  container: compute-host
  simulation_root: /srv/sims
  backend_patterns:
    - slurm=Submitted batch job \d+
notify:
  url: http://hooks.local/status
  workers: 0
`), 0o600))

	t.Setenv("GATEWAY_REMOTE_SIMULATION_ROOT", "/override")

	cfg, err := Load(cfgFile)
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Service.Port)
	assert.Equal(t, "s3cret", cfg.Service.APIKey)
	assert.Equal(t, TransportDocker, cfg.Remote.Transport)
	assert.Equal(t, "compute-host", cfg.Remote.Container)
	assert.Equal(t, []string{`slurm=Submitted batch job \d+`}, cfg.Remote.BackendPatterns)
	assert.Equal(t, "/override", cfg.Remote.SimulationRoot, "environment beats file")
	assert.Equal(t, "http://hooks.local/status", cfg.Notify.URL)
	assert.Equal(t, 10, cfg.Notify.Workers, "zero falls back to the default")
	assert.NoError(t, cfg.Remote.Validate())
}

func TestLoad_ConfigFromEnvironment(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("remote:\n  username: alice\n"), 0o600))
	t.Setenv("GATEWAY_CONFIG", cfgFile)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Remote.Username)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRemoteConfig_Validate(t *testing.T) {
	t.Parallel()
	base := RemoteConfig{
		Transport:      TransportSSH,
		Host:           "h",
		Port:           22,
		Username:       "u",
		SimulationRoot: "/home/u",
	}

	tests := []struct {
		name    string
		mutate  func(c *RemoteConfig)
		wantErr string
	}{
		{name: "valid ssh", mutate: func(*RemoteConfig) {}},
		{name: "unknown transport", mutate: func(c *RemoteConfig) { c.Transport = "telnet" }, wantErr: "unknown remote.transport"},
		{name: "no host", mutate: func(c *RemoteConfig) { c.Host = "" }, wantErr: "remote.host"},
		{name: "bad port", mutate: func(c *RemoteConfig) { c.Port = 70000 }, wantErr: "out of range"},
		{name: "no user", mutate: func(c *RemoteConfig) { c.Username = "" }, wantErr: "remote.username"},
		{name: "docker without container", mutate: func(c *RemoteConfig) { c.Transport = TransportDocker }, wantErr: "remote.container"},
		{name: "docker with container", mutate: func(c *RemoteConfig) { c.Transport = TransportDocker; c.Container = "hpc" }},
		{name: "no simulation root", mutate: func(c *RemoteConfig) { c.SimulationRoot = "" }, wantErr: "simulation_root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetSecretFile(t *testing.T) {
	// Test empty path
	result := GetSecretFile("")
	if result != "" {
		t.Errorf("Expected empty string for empty path, got %q", result)
	}

	// Test nonexistent file
	result = GetSecretFile("/nonexistent/path/to/secret")
	if result != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", result)
	}

	// Test with actual file
	tmpFile, err := os.CreateTemp("", "secret-test")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	secretValue := "my-secret-value"
	if _, err := tmpFile.WriteString(secretValue + "\n"); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	result = GetSecretFile(tmpFile.Name())
	if result != secretValue {
		t.Errorf("Expected %q, got %q", secretValue, result)
	}
}
