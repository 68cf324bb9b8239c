package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizsense/internal/resource"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromINI(t *testing.T) {
	path := writeFile(t, "Settings.ini", `
[UserSettings]
resourceMode = saver
sessionMinutes = 90
maxQuestions = 40
pacingSeconds = 5
maxConsecutiveErrors = 3
databasePath = /tmp/qs.db
logLevel = DEBUG
`)

	cfg, err := LoadFromINI(path)
	require.NoError(t, err)

	assert.Equal(t, resource.ModePowerSaver, cfg.Mode)
	assert.Equal(t, 90*time.Minute, cfg.SessionDuration)
	assert.Equal(t, 40, cfg.MaxQuestions)
	assert.Equal(t, 5*time.Second, cfg.QuestionPacing)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
	assert.Equal(t, "/tmp/qs.db", cfg.DatabasePath)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadFromINIDefaults(t *testing.T) {
	path := writeFile(t, "Settings.ini", "[UserSettings]\n")

	cfg, err := LoadFromINI(path)
	require.NoError(t, err)

	assert.Equal(t, resource.ModeAdaptive, cfg.Mode)
	assert.Equal(t, 5, cfg.MaxConsecutiveErrors)
	assert.Equal(t, 3*time.Second, cfg.QuestionPacing)
	assert.Equal(t, 0.5, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 300*time.Second, cfg.Detection.CacheTTL())
}

func TestLoadDetectionYAML(t *testing.T) {
	path := writeFile(t, "detection.yaml", `
confidence_threshold: 0.6
cache_ttl_seconds: 120
uncertainty_threshold: 0.25
retrain_batch_size: 30
ensemble_weights:
  forest: 0.3
  boosted: 0.3
  mlp: 0.4
context_keywords:
  - trivia
  - jackpot
`)

	cfg := Default()
	require.NoError(t, LoadDetectionYAML(path, cfg))

	assert.Equal(t, 0.6, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 120*time.Second, cfg.Detection.CacheTTL())
	assert.Equal(t, 0.25, cfg.Detection.UncertaintyThreshold)
	assert.Equal(t, 30, cfg.Detection.RetrainBatchSize)
	assert.Equal(t, 0.4, cfg.Detection.EnsembleWeights["mlp"])
	assert.Equal(t, []string{"trivia", "jackpot"}, cfg.Detection.ContextKeywords)
}

func TestLoadDetectionYAMLMissingFileKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadDetectionYAML(filepath.Join(t.TempDir(), "absent.yaml"), cfg))
	assert.Equal(t, 0.5, cfg.Detection.ConfidenceThreshold)
}

func TestLoadDetectionYAMLRejectsBadThreshold(t *testing.T) {
	path := writeFile(t, "detection.yaml", "confidence_threshold: 1.5\n")
	assert.Error(t, LoadDetectionYAML(path, Default()))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, resource.ModeHighPerformance, parseMode("high"))
	assert.Equal(t, resource.ModeBalanced, parseMode("balanced"))
	assert.Equal(t, resource.ModePowerSaver, parseMode("powersaver"))
	assert.Equal(t, resource.ModeAdaptive, parseMode("anything-else"))
}
