package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/models"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 3, cfg.LLM.MaxConcurrent)
	assert.Equal(t, 100, cfg.Flow.MaxSessions)
	assert.Equal(t, 3, cfg.Flow.MaxAgentsPerSession)
	assert.Equal(t, 8, cfg.Flow.MaxRounds)
	assert.Equal(t, 30*time.Minute, cfg.Flow.IdleTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.SessionTTL)
	require.Contains(t, cfg.Roles, RoleAnalyst)
	assert.InDelta(t, 0.7, cfg.Roles[RoleAnalyst].Threshold, 1e-9)
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("MAX_CONCURRENT_LLM", "7")
	t.Setenv("MAX_SESSIONS", "5")
	t.Setenv("IDLE_TIMEOUT_SECONDS", "120")
	t.Setenv("STORE_PATH", "/tmp/x.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 7, cfg.LLM.MaxConcurrent)
	assert.Equal(t, 5, cfg.Flow.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.Flow.IdleTimeout)
	assert.Equal(t, "/tmp/x.db", cfg.StorePath)
}

func TestLoadRejectsMalformedInteger(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("MAX_SESSIONS", "many")

	_, err := Load()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "MAX_SESSIONS", cerr.Field)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "llm.provider", cerr.Field)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: "9090"
flow:
  max_rounds: 4
roles:
  reviewer:
    id: reviewer
    threshold: 0.9
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LLM_PROVIDER", "mock")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 4, cfg.Flow.MaxRounds)
	assert.InDelta(t, 0.9, cfg.Roles[RoleReviewer].Threshold, 1e-9)
}

func TestProfileShapes(t *testing.T) {
	cfg := Defaults()

	quick := cfg.Profile(models.ModeQuick)
	assert.True(t, quick.SkipReview)
	assert.Equal(t, 3, quick.MaxRounds)
	assert.Equal(t, 3, quick.QuestionsPerRound)
	assert.Equal(t, 30*time.Second, quick.TaskTimeout)

	deep := cfg.Profile(models.ModeDeep)
	assert.True(t, deep.ReviewRetry)
	assert.Equal(t, 180*time.Second, deep.TaskTimeout)

	std := cfg.Profile(models.ModeStandard)
	assert.False(t, std.SkipReview)
	assert.False(t, std.ReviewRetry)
	assert.Equal(t, 90*time.Second, std.TaskTimeout)
}
