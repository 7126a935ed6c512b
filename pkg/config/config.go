// Package config resolves the backend launch configuration from an optional
// YAML file plus environment overrides into the supervisor's immutable view.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/retry"
	"github.com/go-go-golems/crawlctl/pkg/supervise"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".crawlctl.yaml"

// Env overrides win over file values.
const (
	EnvBrokerURL   = "CRAWLCTL_BROKER_URL"
	EnvAPIPort     = "CRAWLCTL_API_PORT"
	EnvBackendRoot = "CRAWLCTL_BACKEND_ROOT"
)

type File struct {
	BrokerURL   string `yaml:"broker_url,omitempty"`
	APIPort     int    `yaml:"api_port,omitempty"`
	BackendRoot string `yaml:"backend_root,omitempty"`
	Workers     int    `yaml:"workers,omitempty"`

	SettleDelayMs int `yaml:"settle_delay_ms,omitempty"`
	GracePeriodMs int `yaml:"grace_period_ms,omitempty"`

	Readiness *ReadinessFile `yaml:"readiness,omitempty"`

	Commands CommandsFile `yaml:"commands,omitempty"`
}

type ReadinessFile struct {
	MaxAttempts    int `yaml:"max_attempts,omitempty"`
	IntervalMs     int `yaml:"interval_ms,omitempty"`
	ProbeTimeoutMs int `yaml:"probe_timeout_ms,omitempty"`
}

type CommandsFile struct {
	Broker []string `yaml:"broker,omitempty"`
	Worker []string `yaml:"worker,omitempty"`
	API    []string `yaml:"api,omitempty"`
}

func DefaultPath(repoRoot string) string {
	return filepath.Join(repoRoot, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &cfg, nil
}

func LoadOptional(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

// Resolve merges file values, env overrides and defaults into the
// supervisor config. repoRoot anchors relative paths and the state dir.
func (f *File) Resolve(repoRoot string) (supervise.Config, error) {
	cfg := supervise.Config{
		RepoRoot:    repoRoot,
		BrokerURL:   f.BrokerURL,
		APIPort:     f.APIPort,
		BackendRoot: f.BackendRoot,
		Workers:     f.Workers,
	}

	if v := os.Getenv(EnvBrokerURL); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv(EnvAPIPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return supervise.Config{}, errors.Wrapf(err, "parse %s", EnvAPIPort)
		}
		cfg.APIPort = port
	}
	if v := os.Getenv(EnvBackendRoot); v != "" {
		cfg.BackendRoot = v
	}

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "redis://127.0.0.1:6379"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 3002
	}
	if cfg.BackendRoot == "" {
		cfg.BackendRoot = repoRoot
	} else if !filepath.IsAbs(cfg.BackendRoot) {
		cfg.BackendRoot = filepath.Join(repoRoot, cfg.BackendRoot)
	}

	if f.SettleDelayMs > 0 {
		cfg.SettleDelay = time.Duration(f.SettleDelayMs) * time.Millisecond
	}
	if f.GracePeriodMs > 0 {
		cfg.GracePeriod = time.Duration(f.GracePeriodMs) * time.Millisecond
	}
	if r := f.Readiness; r != nil {
		cfg.APIReadiness = retry.Policy{
			MaxAttempts:       r.MaxAttempts,
			Interval:          time.Duration(r.IntervalMs) * time.Millisecond,
			PerAttemptTimeout: time.Duration(r.ProbeTimeoutMs) * time.Millisecond,
		}
	}

	cfg.BrokerCommand = f.Commands.Broker
	cfg.WorkerCommand = f.Commands.Worker
	cfg.APICommand = f.Commands.API
	if len(cfg.BrokerCommand) == 0 {
		cfg.BrokerCommand = []string{"redis-server", "--save", "", "--appendonly", "no"}
	}
	if len(cfg.WorkerCommand) == 0 {
		cfg.WorkerCommand = []string{"node", "dist/src/services/queue-worker.js"}
	}
	if len(cfg.APICommand) == 0 {
		cfg.APICommand = []string{"node", "dist/src/index.js"}
	}

	return cfg, nil
}
