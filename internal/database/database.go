package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	logger *zap.Logger
}

func New(storagePath string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", storagePath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database connection established", zap.String("path", storagePath))
	return database, nil
}

// migrations are applied in order; a version is recorded once its
// statements commit
var migrations = []struct {
	version    int
	statements []string
}{
	{1, []string{
		// Local identity of this agent installation
		`CREATE TABLE IF NOT EXISTS device_info (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			machine_id TEXT NOT NULL,
			device_name TEXT,
			registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP
		)`,
	}},
	{2, []string{
		// Acknowledged round trips
		`CREATE TABLE IF NOT EXISTS response_times (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_type TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			status INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_response_times_type ON response_times(message_type, id)`,
		`CREATE INDEX IF NOT EXISTS idx_response_times_recorded ON response_times(recorded_at)`,
	}},
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.apply(m.version, m.statements); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		applied++
	}

	db.logger.Info("Database migrations completed",
		zap.Int("applied", applied),
		zap.Int("version", migrations[len(migrations)-1].version),
	)
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh file
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) apply(version int, statements []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Info("Database connection closed")
	return nil
}
