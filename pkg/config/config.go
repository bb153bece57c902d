package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the Mend controller.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Policy    PolicyConfig    `yaml:"policy"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Loop      LoopConfig      `yaml:"loop"`
	Runner    RunnerConfig    `yaml:"runner"`
	Verify    VerifyConfig    `yaml:"verify"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PolicyConfig controls rule-source loading and hot reload.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// EvaluatorConfig holds the single-plan guardrail knobs applied during
// policy evaluation.
type EvaluatorConfig struct {
	MinReplicas            int `yaml:"minReplicas"`
	MaxReplicas            int `yaml:"maxReplicas"`
	RestartCooldownSeconds int `yaml:"restartCooldownSeconds"`
}

// LoopConfig holds the closed-loop worker and fleet guardrail knobs.
type LoopConfig struct {
	CooldownSeconds     int `yaml:"cooldownSeconds"`
	MaxRetries          int `yaml:"maxRetries"`
	BaseBackoffSeconds  int `yaml:"baseBackoffSeconds"`
	MaxActionsPerHour   int `yaml:"maxActionsPerHour"`
	MaxReplicas         int `yaml:"maxReplicas"`
	MaxScaleIncrease15m int `yaml:"maxScaleIncrease15m"`
	QueueMaxSize        int `yaml:"queueMaxSize"` // 0 = unbounded
}

// RunnerConfig controls action execution retries.
type RunnerConfig struct {
	MaxRetries  int           `yaml:"maxRetries"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// VerifyConfig controls rollout verification polling.
type VerifyConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// ClusterConfig controls the cluster client.
type ClusterConfig struct {
	Namespace  string `yaml:"namespace"`
	NamePrefix string `yaml:"namePrefix"`
	DataDir    string `yaml:"dataDir"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MEND_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()
	return &cfg, nil
}

// Default returns the documented defaults for every knob.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			Path:  "configs/policies.rules",
			Watch: false,
		},
		Evaluator: EvaluatorConfig{
			MinReplicas:            1,
			MaxReplicas:            10,
			RestartCooldownSeconds: 120,
		},
		Loop: LoopConfig{
			CooldownSeconds:     300,
			MaxRetries:          2,
			BaseBackoffSeconds:  5,
			MaxActionsPerHour:   6,
			MaxReplicas:         8,
			MaxScaleIncrease15m: 3,
			QueueMaxSize:        0,
		},
		Runner: RunnerConfig{
			MaxRetries:  2,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
		Verify: VerifyConfig{
			Timeout:      60 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Cluster: ClusterConfig{
			Namespace:  "mend-dev",
			NamePrefix: "mend-",
			DataDir:    "./mend-data",
		},
		Audit: AuditConfig{
			Path: "./mend-data/audit.jsonl",
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// normalize clamps misconfigured bounds so a bad environment cannot produce
// an inverted replica window.
func (c *Config) normalize() {
	if c.Evaluator.MaxReplicas < c.Evaluator.MinReplicas {
		c.Evaluator.MaxReplicas = c.Evaluator.MinReplicas
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEND_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MEND_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("MEND_POLICY_WATCH"); v != "" {
		cfg.Policy.Watch = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MEND_MIN_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluator.MinReplicas = n
		}
	}
	if v := os.Getenv("MEND_MAX_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluator.MaxReplicas = n
		}
	}
	if v := os.Getenv("MEND_RESTART_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluator.RestartCooldownSeconds = n
		}
	}
	if v := os.Getenv("MEND_LOOP_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.CooldownSeconds = n
		}
	}
	if v := os.Getenv("MEND_LOOP_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxRetries = n
		}
	}
	if v := os.Getenv("MEND_LOOP_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.BaseBackoffSeconds = n
		}
	}
	if v := os.Getenv("MEND_GUARDRAIL_MAX_ACTIONS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxActionsPerHour = n
		}
	}
	if v := os.Getenv("MEND_GUARDRAIL_MAX_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxReplicas = n
		}
	}
	if v := os.Getenv("MEND_GUARDRAIL_MAX_SCALE_INCREASE_15M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxScaleIncrease15m = n
		}
	}
	if v := os.Getenv("MEND_QUEUE_MAXSIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.QueueMaxSize = n
		}
	}
	if v := os.Getenv("MEND_RUNNER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxRetries = n
		}
	}
	if v := os.Getenv("MEND_RUNNER_BASE_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.BaseBackoff = d
		}
	}
	if v := os.Getenv("MEND_RUNNER_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runner.MaxBackoff = d
		}
	}
	if v := os.Getenv("MEND_VERIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Verify.Timeout = d
		}
	}
	if v := os.Getenv("MEND_VERIFY_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Verify.PollInterval = d
		}
	}
	if v := os.Getenv("MEND_NAMESPACE"); v != "" {
		cfg.Cluster.Namespace = v
	}
	if v := os.Getenv("MEND_NAME_PREFIX"); v != "" {
		cfg.Cluster.NamePrefix = v
	}
	if v := os.Getenv("MEND_DATA_DIR"); v != "" {
		cfg.Cluster.DataDir = v
	}
	if v := os.Getenv("MEND_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("MEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEND_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
