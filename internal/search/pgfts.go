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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the submissions fts column, ranked by
// ts_rank with a ts_headline snippet on the name.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "s.fts @@ " + tsQuery
	if q.DataCommons != "" {
		where += fmt.Sprintf(" AND s.data_commons = $%d", argN)
		args = append(args, q.DataCommons)
		argN++
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, st)
			argN++
		}
		where += fmt.Sprintf(" AND s.status IN (%s)", strings.Join(placeholders, ", "))
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM submissions s WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.name,
			ts_headline('english', s.name, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			s.study_id, s.data_commons, s.submitter_name, s.status
		FROM submissions s
		WHERE %s
		ORDER BY ts_rank(s.fts, %s) DESC, s.id ASC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.StudyID, &r.DataCommons, &r.SubmitterName, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all submissions for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SubmissionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, study_id, data_commons, submitter_name, status
		FROM submissions
	`)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()

	records := make([]SubmissionRecord, 0)
	for rows.Next() {
		var rec SubmissionRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.StudyID, &rec.DataCommons, &rec.SubmitterName, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return records, nil
}
