package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func schemaVersion(q queryRower) (int, error) {
	var v int
	if err := q.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func tableExists(q queryRower, name string) (bool, error) {
	var n int
	err := q.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up table %s: %w", name, err)
	}
	return n > 0, nil
}

// pending returns the migrations newer than version, in order.
func pending(version int) []Migration {
	var out []Migration
	for _, m := range migrations {
		if m.Version > version {
			out = append(out, m)
		}
	}
	return out
}

// migrate applies every pending migration. A database that already has a
// news table but no recorded version (a store written by the web app before
// this binary existed) is adopted as version 1, so only later steps run.
func migrate(conn *sql.DB) error {
	version, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	if version == 0 {
		found, err := tableExists(conn, "news")
		if err != nil {
			return err
		}
		if found {
			slog.Info("adopting existing news store", "version", 1)
			if err := setSchemaVersion(conn, 1); err != nil {
				return err
			}
			version = 1
		}
	}

	if version >= latestVersion() {
		return nil
	}
	for _, m := range pending(version) {
		if err := apply(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	slog.Info("applying migration", "version", m.Version, "description", m.Description)

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

	// user_version is written outside the transaction; every Up is idempotent
	// so a crash between commit and stamp only replays DDL.
	return setSchemaVersion(conn, m.Version)
}

func setSchemaVersion(conn *sql.DB, v int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", v, err)
	}
	return nil
}
