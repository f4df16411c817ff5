package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the survey listing columns with
// ts_rank ordering and ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsVector = `to_tsvector('english', site_name || ' ' || client_name || ' ' || reference || ' ' || surveyor)`
	where := tsVector + ` @@ plainto_tsquery('english', $1)`
	args := []any{q.Text}
	if q.FilterStatus != "" {
		where += " AND status = $2"
		args = append(args, q.FilterStatus)
	}

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM surveys WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, reference, site_name, client_name, status,
			ts_headline('english', site_name || ' ' || client_name, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM surveys
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, tsVector, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Reference, &r.SiteName, &r.ClientName, &r.Status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable survey records for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SurveyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, reference, site_name, client_name, surveyor, status, COALESCE(payload->>'notes', '')
		FROM surveys
	`)
	if err != nil {
		return nil, fmt.Errorf("load surveys: %w", err)
	}
	defer rows.Close()

	records := make([]SurveyRecord, 0)
	for rows.Next() {
		var r SurveyRecord
		if err := rows.Scan(&r.ID, &r.Reference, &r.SiteName, &r.ClientName, &r.Surveyor, &r.Status, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return records, nil
}
