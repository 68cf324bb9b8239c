package store

import (
	"fmt"
	"os"
	"path/filepath"

	"quizsense/internal/ml"
)

// SaveScorerStates writes each scorer's trained state as JSON under
// dir, one file per scorer. Files are written to a temp path and
// renamed so a crash mid-write never leaves a torn state file.
func SaveScorerStates(dir string, scorers []ml.Scorer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create weights directory: %w", err)
	}

	for _, scorer := range scorers {
		if !scorer.Ready() {
			continue
		}
		state, err := scorer.StateJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", scorer.Name(), err)
		}

		final := filepath.Join(dir, scorer.Name()+".json")
		tmp := final + ".tmp"
		if err := os.WriteFile(tmp, state, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("failed to replace %s: %w", final, err)
		}
	}

	return nil
}

// LoadScorerStates restores previously saved state into the given
// scorers. Missing files are skipped; a scorer without a state file
// simply starts untrained.
func LoadScorerStates(dir string, scorers []ml.Scorer) error {
	for _, scorer := range scorers {
		path := filepath.Join(dir, scorer.Name()+".json")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := scorer.LoadState(data); err != nil {
			return fmt.Errorf("failed to load state for %s: %w", scorer.Name(), err)
		}
	}
	return nil
}
