package store

import (
	"fmt"
	"time"

	"quizsense/internal/detect"
)

// DetectionRecord is one persisted detection log row.
type DetectionRecord struct {
	ID           int64
	QuestionText string
	OptionCount  int
	Confidence   float64
	Method       string
	FrameHash    string
	DetectedAt   time.Time
}

// SaveDetection appends a detection to the log.
func (db *DB) SaveDetection(d *detect.Detection) error {
	_, err := db.conn.Exec(`
		INSERT INTO detections (question_text, option_count, confidence, method, frame_hash, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.QuestionText, len(d.Options), d.Confidence, d.Method, d.FrameHash, d.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// RecentDetections returns the latest detections, newest first.
func (db *DB) RecentDetections(limit int) ([]DetectionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, question_text, option_count, confidence, method, frame_hash, detected_at
		FROM detections ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []DetectionRecord
	for rows.Next() {
		var r DetectionRecord
		if err := rows.Scan(&r.ID, &r.QuestionText, &r.OptionCount, &r.Confidence,
			&r.Method, &r.FrameHash, &r.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
