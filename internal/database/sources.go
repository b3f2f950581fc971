package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

const sourceColumns = "id, name, url, type, logo_url, content_selector, active"

// Sources returns every registered source in registry order.
func (db *DB) Sources() ([]news.Source, error) {
	return db.querySources("SELECT " + sourceColumns + " FROM sources ORDER BY created_at, rowid")
}

// ActiveSources returns the sources that take part in ingestion cycles.
func (db *DB) ActiveSources() ([]news.Source, error) {
	return db.querySources("SELECT " + sourceColumns + " FROM sources WHERE active = 1 ORDER BY created_at, rowid")
}

// GetSource returns a single source, or nil when it does not exist.
func (db *DB) GetSource(id string) (*news.Source, error) {
	sources, err := db.querySources("SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	if err != nil || len(sources) == 0 {
		return nil, err
	}
	return &sources[0], nil
}

// UpsertSource creates a source or replaces the fields of an existing one.
func (db *DB) UpsertSource(s news.Source) error {
	_, err := db.conn.Exec(
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, url = excluded.url, type = excluded.type,
			logo_url = excluded.logo_url, content_selector = excluded.content_selector,
			active = excluded.active`,
		s.ID, s.Name, s.URL, string(s.Kind), nullable(s.LogoURL), nullable(s.Selector.String()), boolInt(s.Active),
	)
	return err
}

// SetSourceActive flips a source in or out of ingestion.
func (db *DB) SetSourceActive(id string, active bool) error {
	res, err := db.conn.Exec("UPDATE sources SET active = ? WHERE id = ?", boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %q not found", id)
	}
	return nil
}

// DeleteSource removes a source from the registry. Its stored news is kept.
func (db *DB) DeleteSource(id string) error {
	res, err := db.conn.Exec("DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %q not found", id)
	}
	return nil
}

// SeedSources inserts seed sources when the registry is empty and returns
// how many were added.
func (db *DB) SeedSources(seeds []news.Source) (int, error) {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM sources").Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, s := range seeds {
		if err := db.UpsertSource(s); err != nil {
			return 0, fmt.Errorf("seeding %s: %w", s.ID, err)
		}
	}
	return len(seeds), nil
}

func (db *DB) querySources(query string, args ...any) ([]news.Source, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []news.Source
	for rows.Next() {
		var s news.Source
		var kind string
		var logo, selector sql.NullString
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &kind, &logo, &selector, &active); err != nil {
			return nil, err
		}
		s.Kind = news.ParseKind(kind)
		s.LogoURL = logo.String
		s.Active = active != 0

		sel, err := news.ParseSelector(selector.String)
		if err != nil {
			slog.Warn("ignoring invalid stored selector", "source", s.ID, "err", err)
		}
		s.Selector = sel
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
