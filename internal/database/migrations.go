package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'rss',
    logo_url TEXT,
    content_selector TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS news (
    id TEXT PRIMARY KEY,
    source_id TEXT,
    source_name TEXT NOT NULL,
    original_url TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT,
    content TEXT,
    tags TEXT,
    image_url TEXT,
    image_type TEXT,
    published_at TEXT NOT NULL,
    views INTEGER NOT NULL DEFAULT 0,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_news_published ON news(published_at);
CREATE INDEX IF NOT EXISTS idx_news_source ON news(source_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "urgent flag and cycle reports",
		Up: func(tx *sql.Tx) error {
			var n int
			if err := tx.QueryRow(
				"SELECT COUNT(*) FROM pragma_table_info('news') WHERE name = 'urgent'",
			).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				if _, err := tx.Exec("ALTER TABLE news ADD COLUMN urgent INTEGER NOT NULL DEFAULT 0"); err != nil {
					return err
				}
			}

			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS cycle_reports (
    id TEXT PRIMARY KEY,
    trigger_kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    active_sources INTEGER DEFAULT 0,
    fetched INTEGER DEFAULT 0,
    exact_duplicates INTEGER DEFAULT 0,
    fuzzy_duplicates INTEGER DEFAULT 0,
    unique_count INTEGER DEFAULT 0,
    enriched INTEGER DEFAULT 0,
    source_counts TEXT,
    error TEXT,
    body_markdown TEXT
);

CREATE INDEX IF NOT EXISTS idx_cycle_reports_started ON cycle_reports(started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
