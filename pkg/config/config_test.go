package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaults verifies the documented guardrail defaults
func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 120, cfg.Evaluator.RestartCooldownSeconds)
	assert.Equal(t, 1, cfg.Evaluator.MinReplicas)
	assert.Equal(t, 10, cfg.Evaluator.MaxReplicas)
	assert.Equal(t, 300, cfg.Loop.CooldownSeconds)
	assert.Equal(t, 2, cfg.Loop.MaxRetries)
	assert.Equal(t, 5, cfg.Loop.BaseBackoffSeconds)
	assert.Equal(t, 6, cfg.Loop.MaxActionsPerHour)
	assert.Equal(t, 8, cfg.Loop.MaxReplicas)
	assert.Equal(t, 3, cfg.Loop.MaxScaleIncrease15m)
	assert.Equal(t, 0, cfg.Loop.QueueMaxSize)
	assert.Equal(t, 60*time.Second, cfg.Verify.Timeout)
}

// TestLoadFromFile verifies YAML values override defaults
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mend.yaml")
	data := []byte(`
server:
  address: ":9999"
loop:
  cooldownSeconds: 60
  maxRetries: 5
policy:
  path: /etc/mend/rules
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 60, cfg.Loop.CooldownSeconds)
	assert.Equal(t, 5, cfg.Loop.MaxRetries)
	assert.Equal(t, "/etc/mend/rules", cfg.Policy.Path)
	// Untouched values keep defaults
	assert.Equal(t, 6, cfg.Loop.MaxActionsPerHour)
}

// TestLoadMissingFile verifies a named-but-absent file is an error
func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/mend.yaml")
	assert.Error(t, err)
}

// TestEnvOverrides verifies environment variables win over file values
func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEND_GUARDRAIL_MAX_REPLICAS", "4")
	t.Setenv("MEND_LOOP_COOLDOWN_SECONDS", "30")
	t.Setenv("MEND_POLICY_WATCH", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Loop.MaxReplicas)
	assert.Equal(t, 30, cfg.Loop.CooldownSeconds)
	assert.True(t, cfg.Policy.Watch)
}

// TestInvertedReplicaBoundsClamped verifies max < min is normalized
func TestInvertedReplicaBoundsClamped(t *testing.T) {
	t.Setenv("MEND_MIN_REPLICAS", "5")
	t.Setenv("MEND_MAX_REPLICAS", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Evaluator.MinReplicas)
	assert.Equal(t, 5, cfg.Evaluator.MaxReplicas)
}
