package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"quizsense/internal/ml"
)

// SaveTrainingSamples appends a batch of samples in one transaction.
func (db *DB) SaveTrainingSamples(samples []ml.TrainingSample) error {
	return db.ExecTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO training_samples (features, image_vec, label, text, created_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sample := range samples {
			features, err := json.Marshal(sample.Features)
			if err != nil {
				return fmt.Errorf("failed to encode features: %w", err)
			}

			var imageVec sql.NullString
			if len(sample.ImageVec) > 0 {
				encoded, err := json.Marshal(sample.ImageVec)
				if err != nil {
					return fmt.Errorf("failed to encode image vector: %w", err)
				}
				imageVec = sql.NullString{String: string(encoded), Valid: true}
			}

			label := 0
			if sample.Label {
				label = 1
			}

			if _, err := stmt.Exec(string(features), imageVec, label, sample.Text, sample.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert training sample: %w", err)
			}
		}
		return nil
	})
}

// LoadTrainingSamples returns the most recent samples, oldest first.
func (db *DB) LoadTrainingSamples(limit int) ([]ml.TrainingSample, error) {
	rows, err := db.conn.Query(`
		SELECT features, image_vec, label, text, created_at
		FROM (
			SELECT * FROM training_samples ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training samples: %w", err)
	}
	defer rows.Close()

	var samples []ml.TrainingSample
	for rows.Next() {
		var (
			featuresJSON string
			imageVecJSON sql.NullString
			label        int
			sample       ml.TrainingSample
		)
		if err := rows.Scan(&featuresJSON, &imageVecJSON, &label, &sample.Text, &sample.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training sample: %w", err)
		}
		if err := json.Unmarshal([]byte(featuresJSON), &sample.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
		if imageVecJSON.Valid {
			if err := json.Unmarshal([]byte(imageVecJSON.String), &sample.ImageVec); err != nil {
				return nil, fmt.Errorf("failed to decode image vector: %w", err)
			}
		}
		sample.Label = label != 0
		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

// CountTrainingSamples returns how many samples have been logged.
func (db *DB) CountTrainingSamples() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM training_samples").Scan(&count)
	return count, err
}
