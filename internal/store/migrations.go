package store

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
	},
	{
		Version:     2,
		Description: "Create training_samples table",
		Up:          migration002Up,
	},
	{
		Version:     3,
		Description: "Create detections table",
		Up:          migration003Up,
	},
}

// Migrate applies all pending migrations in order.
func (db *DB) Migrate() error {
	// The version table must exist before the version can be read.
	if err := db.ExecTx(migrations[0].Up); err != nil {
		return fmt.Errorf("migration %d (%s): %w", migrations[0].Version, migrations[0].Description, err)
	}

	current, err := db.GetVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.ExecTx(func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.Exec(
				"INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))",
				m.Version)
			return err
		}); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS training_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			features TEXT NOT NULL,
			image_vec TEXT,
			label INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration003Up(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question_text TEXT NOT NULL,
			option_count INTEGER NOT NULL,
			confidence REAL NOT NULL,
			method TEXT NOT NULL,
			frame_hash TEXT NOT NULL,
			detected_at DATETIME NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_detections_hash ON detections(frame_hash)`)
	return err
}
