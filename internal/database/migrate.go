package database

import (
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// pendingMigrations returns the migrations above version, in order.
func pendingMigrations(version int) []Migration {
	var pending []Migration
	for _, m := range migrations {
		if m.Version > version {
			pending = append(pending, m)
		}
	}
	return pending
}

// migrate applies every pending migration. A schema newer than this binary
// knows is refused rather than downgraded.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}
	if latest := latestVersion(); current > latest {
		return apperr.Wrap(apperr.ErrSchema, "database schema version %d is newer than supported version %d", current, latest)
	}

	for _, m := range pendingMigrations(current) {
		if err := applyMigration(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}

	// modernc/sqlite will not set user_version inside the transaction. The DDL
	// is idempotent, so a crash here only re-runs the step.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("setting version %d: %w", m.Version, err)
	}
	return nil
}
