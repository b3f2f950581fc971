package database

import (
	"database/sql"
	"encoding/json"
)

const reportColumns = `id, trigger_kind, outcome, started_at, finished_at, active_sources, fetched,
	exact_duplicates, fuzzy_duplicates, unique_count, enriched, source_counts, error, body_markdown`

// InsertCycleReport stores the report of a finished cycle.
func (db *DB) InsertCycleReport(r *CycleReport) error {
	counts, err := json.Marshal(r.SourceCounts)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO cycle_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.Outcome, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.ActiveSources, r.Fetched, r.ExactDuplicates, r.FuzzyDuplicates, r.Unique, r.Enriched,
		string(counts), nullable(r.Error), r.BodyMarkdown,
	)
	return err
}

// GetCycleReport returns a report by id, or nil when it does not exist.
func (db *DB) GetCycleReport(id string) (*CycleReport, error) {
	reports, err := db.queryReports("SELECT "+reportColumns+" FROM cycle_reports WHERE id = ?", id)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

// ListCycleReports returns the most recent reports first.
func (db *DB) ListCycleReports(limit int) ([]CycleReport, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryReports("SELECT "+reportColumns+" FROM cycle_reports ORDER BY started_at DESC LIMIT ?", limit)
}

// LatestCycleReport returns the most recent report, or nil before the first cycle.
func (db *DB) LatestCycleReport() (*CycleReport, error) {
	reports, err := db.ListCycleReports(1)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

func (db *DB) queryReports(query string, args ...any) ([]CycleReport, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []CycleReport
	for rows.Next() {
		var r CycleReport
		var started, finished string
		var counts, errText, body sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Outcome, &started, &finished,
			&r.ActiveSources, &r.Fetched, &r.ExactDuplicates, &r.FuzzyDuplicates,
			&r.Unique, &r.Enriched, &counts, &errText, &body); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Error = errText.String
		r.BodyMarkdown = body.String
		if counts.Valid && counts.String != "" {
			if err := json.Unmarshal([]byte(counts.String), &r.SourceCounts); err != nil {
				r.SourceCounts = nil
			}
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM news", &s.TotalNews},
		{"SELECT COUNT(*) FROM news WHERE urgent = 1", &s.UrgentNews},
		{"SELECT COALESCE(SUM(views), 0) FROM news", &s.TotalViews},
		{"SELECT COUNT(*) FROM sources", &s.TotalSources},
		{"SELECT COUNT(*) FROM sources WHERE active = 1", &s.ActiveSources},
		{"SELECT COUNT(*) FROM cycle_reports", &s.CycleReports},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var latest sql.NullString
	if err := db.conn.QueryRow("SELECT MAX(published_at) FROM news").Scan(&latest); err != nil {
		return nil, err
	}
	s.LatestItem = latest.String

	return s, nil
}
