// Package config loads operator settings. Two files feed the service:
// Settings.ini carries the resource budget and session limits, and
// detection.yaml carries the tunable detection thresholds, ensemble
// weights and context keywords.
package config

import (
	"time"

	"quizsense/internal/resource"
)

// Config is the operator-facing service configuration.
type Config struct {
	// Resource budget
	Mode resource.Mode

	// Session limits
	SessionDuration time.Duration
	MaxQuestions    int
	QuestionPacing  time.Duration

	// Error handling
	MaxConsecutiveErrors int

	// Paths
	DatabasePath string
	WeightsDir   string
	TemplatesDir string

	// Logging
	LogLevel string
	LogFile  string

	Detection DetectionConfig
}

// DetectionConfig is the tunable half of the pipeline, loaded from
// detection.yaml.
type DetectionConfig struct {
	ConfidenceThreshold  float64            `yaml:"confidence_threshold"`
	CacheTTLSeconds      int                `yaml:"cache_ttl_seconds"`
	UncertaintyThreshold float64            `yaml:"uncertainty_threshold"`
	RetrainBatchSize     int                `yaml:"retrain_batch_size"`
	EnsembleWeights      map[string]float64 `yaml:"ensemble_weights"`
	ContextKeywords      []string           `yaml:"context_keywords"`
}

// Default returns the configuration used when no files are present.
func Default() *Config {
	return &Config{
		Mode:                 resource.ModeAdaptive,
		SessionDuration:      0, // unlimited
		MaxQuestions:         0, // unlimited
		QuestionPacing:       3 * time.Second,
		MaxConsecutiveErrors: 5,
		DatabasePath:         "data/quizsense.db",
		WeightsDir:           "data/weights",
		TemplatesDir:         "templates",
		LogLevel:             "INFO",
		Detection: DetectionConfig{
			ConfidenceThreshold:  0.5,
			CacheTTLSeconds:      300,
			UncertaintyThreshold: 0.3,
			RetrainBatchSize:     50,
		},
	}
}

// CacheTTL returns the detection cache TTL as a duration.
func (d DetectionConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSeconds) * time.Second
}
