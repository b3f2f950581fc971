package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

const timeLayout = time.RFC3339

const newsColumns = `id, source_id, source_name, original_url, title, summary, content,
	tags, image_url, image_type, published_at, views, urgent`

// UpsertNews inserts candidates or updates the stored rows with the same id.
// Views are never lowered and the urgent flag is never cleared.
func (db *DB) UpsertNews(items []news.Candidate) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO news (` + newsColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			content = excluded.content,
			tags = excluded.tags,
			image_url = excluded.image_url,
			image_type = excluded.image_type,
			published_at = excluded.published_at,
			views = MAX(news.views, excluded.views),
			urgent = MAX(news.urgent, excluded.urgent)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range items {
		tags, err := json.Marshal(c.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(
			c.ID, c.SourceID, c.SourceName, c.OriginalURL, c.Title, c.Summary, c.Content,
			string(tags), c.ImageURL, string(c.ImageType), formatTime(c.PublishedAt),
			c.Views, boolInt(c.Urgent),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// RecentWindow returns the items published within the trailing number of days.
func (db *DB) RecentWindow(days int) ([]news.ExistingItem, error) {
	cutoff := db.now().AddDate(0, 0, -days)
	rows, err := db.conn.Query(
		`SELECT id, title, summary, published_at FROM news
		WHERE published_at >= ? ORDER BY published_at DESC`, formatTime(cutoff),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []news.ExistingItem
	for rows.Next() {
		var it news.ExistingItem
		var summary sql.NullString
		var published string
		if err := rows.Scan(&it.ID, &it.Title, &summary, &published); err != nil {
			return nil, err
		}
		it.Summary = summary.String
		it.PublishedAt = parseTime(published)
		items = append(items, it)
	}
	return items, rows.Err()
}

// AllIDs returns the id of every stored item.
func (db *DB) AllIDs() (map[string]struct{}, error) {
	rows, err := db.conn.Query("SELECT id FROM news")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ListNews returns stored items, newest first.
func (db *DB) ListNews(opts ListOptions) ([]news.Candidate, error) {
	q := sq.Select(newsColumns).From("news").OrderBy("published_at DESC")
	if opts.SourceID != "" {
		q = q.Where(sq.Eq{"source_id": opts.SourceID})
	}
	if opts.Search != "" {
		pattern := "%" + opts.Search + "%"
		q = q.Where(sq.Or{sq.Like{"title": pattern}, sq.Like{"summary": pattern}})
	}
	if !opts.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"published_at": formatTime(opts.Since)})
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}
	q = q.Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building news query: %w", err)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNews(rows)
}

// GetNews returns a single item, or nil when it does not exist.
func (db *DB) GetNews(id string) (*news.Candidate, error) {
	rows, err := db.conn.Query("SELECT "+newsColumns+" FROM news WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanNews(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// IncrementViews adds one view to an item. It reports whether the item exists.
func (db *DB) IncrementViews(id string) (bool, error) {
	res, err := db.conn.Exec("UPDATE news SET views = views + 1 WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearNews deletes every stored item and returns how many were removed.
func (db *DB) ClearNews() (int64, error) {
	res, err := db.conn.Exec("DELETE FROM news")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanNews(rows *sql.Rows) ([]news.Candidate, error) {
	var items []news.Candidate
	for rows.Next() {
		var c news.Candidate
		var sourceID, summary, content, tags, imageURL, imageType sql.NullString
		var published string
		var urgent int
		if err := rows.Scan(&c.ID, &sourceID, &c.SourceName, &c.OriginalURL, &c.Title,
			&summary, &content, &tags, &imageURL, &imageType, &published, &c.Views, &urgent); err != nil {
			return nil, err
		}
		c.SourceID = sourceID.String
		c.Summary = summary.String
		c.Content = content.String
		c.ImageURL = imageURL.String
		c.ImageType = news.ImageType(imageType.String)
		c.PublishedAt = parseTime(published)
		c.Urgent = urgent != 0
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
				c.Tags = nil
			}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
