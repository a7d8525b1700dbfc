// Package config loads process configuration from defaults, an optional
// config file and GATEWAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, with "." in keys
// replaced by "_" (remote.host -> GATEWAY_REMOTE_HOST).
const EnvPrefix = "GATEWAY"

// Remote transports.
const (
	TransportSSH    = "ssh"
	TransportDocker = "docker"
)

// Config is the full process configuration.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Storage StorageConfig `mapstructure:"storage"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// ServiceConfig holds configuration for the gateway service.
type ServiceConfig struct {
	Port              string        `mapstructure:"port"`
	MetricsPort       string        `mapstructure:"metrics_port"`
	APIKeyFile        string        `mapstructure:"api_key_file"`
	APIKey            string        `mapstructure:"-"`
	ShutdownDrainWait time.Duration `mapstructure:"shutdown_drain_wait"` // Time to wait for load balancer to drain (0 to skip)
	DatabasePath      string        `mapstructure:"database_path"`       // Empty keeps jobs in memory
	ScratchDir        string        `mapstructure:"scratch_dir"`         // Empty uses the OS temp dir
	LogLevel          string        `mapstructure:"log_level"`
}

// RemoteConfig describes the compute host. It is read once and never mutated.
type RemoteConfig struct {
	Transport        string        `mapstructure:"transport"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Username         string        `mapstructure:"username"`
	PrivateKey       string        `mapstructure:"private_key"` // Inline PEM
	PrivateKeyPath   string        `mapstructure:"private_key_path"`
	KnownHostsPath   string        `mapstructure:"known_hosts_path"` // Empty accepts any host key
	Container        string        `mapstructure:"container"`        // Docker transport only
	SimulationRoot   string        `mapstructure:"simulation_root"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"` // 0 disables the per-operation deadline
	StatusCommand    string        `mapstructure:"status_command"`    // Empty uses the qstat default
	BackendPatterns  []string      `mapstructure:"backend_patterns"`  // name=regexp pairs; empty uses the built-in list
}

// Address returns host:port for the SSH transport.
func (c RemoteConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects configurations no transport can use.
func (c RemoteConfig) Validate() error {
	switch c.Transport {
	case TransportSSH:
		if c.Host == "" {
			return errors.New("remote.host is required for the ssh transport")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("remote.port %d is out of range", c.Port)
		}
		if c.Username == "" {
			return errors.New("remote.username is required for the ssh transport")
		}
	case TransportDocker:
		if c.Container == "" {
			return errors.New("remote.container is required for the docker transport")
		}
	default:
		return fmt.Errorf("unknown remote.transport %q (want %s or %s)", c.Transport, TransportSSH, TransportDocker)
	}
	if c.SimulationRoot == "" {
		return errors.New("remote.simulation_root is required")
	}
	return nil
}

// StorageConfig configures the object store used for s3:// sources.
type StorageConfig struct {
	S3Region         string `mapstructure:"s3_region"`
	S3Endpoint       string `mapstructure:"s3_endpoint"`
	S3ForcePathStyle bool   `mapstructure:"s3_force_path_style"`
}

// NotifyConfig configures status-change callbacks. An empty URL disables them.
type NotifyConfig struct {
	URL         string        `mapstructure:"url"`
	KeyFile     string        `mapstructure:"key_file"`
	Key         string        `mapstructure:"-"`
	BufferSize  int           `mapstructure:"buffer_size"`  // pending events buffer
	Workers     int           `mapstructure:"workers"`      // concurrent delivery goroutines
	HTTPTimeout time.Duration `mapstructure:"http_timeout"` // per-request timeout
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.port", "8080")
	v.SetDefault("service.metrics_port", "9090")
	v.SetDefault("service.api_key_file", "")
	v.SetDefault("service.shutdown_drain_wait", 5*time.Second)
	v.SetDefault("service.database_path", "")
	v.SetDefault("service.scratch_dir", "")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("remote.transport", TransportSSH)
	v.SetDefault("remote.host", "test_host")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.username", "test_user")
	v.SetDefault("remote.private_key", "")
	v.SetDefault("remote.private_key_path", "")
	v.SetDefault("remote.known_hosts_path", "")
	v.SetDefault("remote.container", "")
	v.SetDefault("remote.simulation_root", "/home/test_user")
	v.SetDefault("remote.connect_timeout", 10*time.Second)
	v.SetDefault("remote.operation_timeout", time.Duration(0))
	v.SetDefault("remote.status_command", "")
	v.SetDefault("remote.backend_patterns", []string{})

	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_force_path_style", false)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.key_file", "")
	v.SetDefault("notify.buffer_size", 10000)
	v.SetDefault("notify.workers", 10)
	v.SetDefault("notify.http_timeout", 10*time.Second)
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. path may be empty, in which case GATEWAY_CONFIG
// is consulted; with neither set only defaults and environment apply.
func Load(path string) (*Config, error) {
	v := New()
	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes an already prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Service.APIKey = GetSecretFile(cfg.Service.APIKeyFile)
	cfg.Notify.Key = GetSecretFile(cfg.Notify.KeyFile)
	if cfg.Remote.PrivateKey == "" && cfg.Remote.PrivateKeyPath != "" {
		cfg.Remote.PrivateKey = GetSecretFile(cfg.Remote.PrivateKeyPath)
	}
	cfg.Notify = cfg.Notify.WithDefaults()
	return &cfg, nil
}

// WithDefaults fills in zero values with defaults.
func (c NotifyConfig) WithDefaults() NotifyConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
