package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"quizsense/internal/resource"
)

// LoadFromINI loads operator settings from a Settings.ini file on top
// of the defaults.
func LoadFromINI(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	config := Default()
	section := cfg.Section("UserSettings")

	config.Mode = parseMode(section.Key("resourceMode").MustString("adaptive"))
	config.SessionDuration = time.Duration(section.Key("sessionMinutes").MustInt(0)) * time.Minute
	config.MaxQuestions = section.Key("maxQuestions").MustInt(0)
	config.QuestionPacing = time.Duration(section.Key("pacingSeconds").MustInt(3)) * time.Second
	config.MaxConsecutiveErrors = section.Key("maxConsecutiveErrors").MustInt(5)

	config.DatabasePath = section.Key("databasePath").MustString(config.DatabasePath)
	config.WeightsDir = section.Key("weightsDir").MustString(config.WeightsDir)
	config.TemplatesDir = section.Key("templatesDir").MustString(config.TemplatesDir)

	config.LogLevel = section.Key("logLevel").MustString("INFO")
	config.LogFile = section.Key("logFile").MustString("")

	return config, nil
}

// LoadDetectionYAML overlays detection tuning from a YAML file. A
// missing file leaves the defaults in place.
func LoadDetectionYAML(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read detection config: %w", err)
	}

	if err := yaml.Unmarshal(data, &config.Detection); err != nil {
		return fmt.Errorf("failed to parse detection config: %w", err)
	}

	if config.Detection.ConfidenceThreshold < 0 || config.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.2f out of range", config.Detection.ConfidenceThreshold)
	}
	for name, w := range config.Detection.EnsembleWeights {
		if w < 0 {
			return fmt.Errorf("ensemble weight for %s is negative", name)
		}
	}
	return nil
}

func parseMode(s string) resource.Mode {
	switch s {
	case "high", "highperformance", "high_performance":
		return resource.ModeHighPerformance
	case "balanced":
		return resource.ModeBalanced
	case "saver", "powersaver", "power_saver":
		return resource.ModePowerSaver
	default:
		return resource.ModeAdaptive
	}
}
