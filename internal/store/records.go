package store

import (
	"context"
	"fmt"
	"strings"
)

// recordPageSize bounds one page of the streaming record walk.
const recordPageSize = 500

const recordColumns = `
	id, submission_id, node_type, node_id, status,
	COALESCE(file_name, ''), COALESCE(file_status, ''),
	props, parents, raw, created_at, updated_at
`

// EachFileRecord walks the submission's file-bearing data records in stable id
// order, paging through them so unbounded node sets are never materialized.
// An empty statuses slice matches every status. The walk stops on the first
// callback error.
func (s *PostgresStore) EachFileRecord(ctx context.Context, submissionID string, statuses []string, fn func(DataRecord) error) error {
	cursor := ""
	for {
		var (
			where = []string{"submission_id = $1", "file_name <> ''"}
			args  = []any{submissionID}
		)
		if len(statuses) > 0 {
			placeholders := make([]string, len(statuses))
			for i, status := range statuses {
				placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
				args = append(args, status)
			}
			where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
		}
		if cursor != "" {
			args = append(args, cursor)
			where = append(where, fmt.Sprintf("id > $%d", len(args)))
		}
		args = append(args, recordPageSize)

		rows, err := s.db.QueryContext(ctx, `
			SELECT `+recordColumns+` FROM data_records
			WHERE `+strings.Join(where, " AND ")+`
			ORDER BY id ASC
			LIMIT $`+fmt.Sprint(len(args)), args...)
		if err != nil {
			return fmt.Errorf("list file records: %w", err)
		}

		count := 0
		for rows.Next() {
			var record DataRecord
			if err := rows.Scan(
				&record.ID, &record.SubmissionID, &record.NodeType, &record.NodeID,
				&record.Status, &record.FileName, &record.FileStatus,
				&record.Props, &record.Parents, &record.Raw,
				&record.CreatedAt, &record.UpdatedAt,
			); err != nil {
				rows.Close()
				return fmt.Errorf("scan file record: %w", err)
			}
			count++
			cursor = record.ID
			if err := fn(record); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate file records: %w", err)
		}
		rows.Close()

		if count < recordPageSize {
			return nil
		}
	}
}

// ListFileRecords collects the submission's file-bearing records. Prefer
// EachFileRecord for large sets; this helper exists for callers that need the
// whole slice anyway (statistics reconciliation).
func (s *PostgresStore) ListFileRecords(ctx context.Context, submissionID string, statuses []string) ([]DataRecord, error) {
	records := make([]DataRecord, 0)
	err := s.EachFileRecord(ctx, submissionID, statuses, func(record DataRecord) error {
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// NodeStatusCounts groups the submission's data records by (nodeType, status).
// Totals are intentionally absent: aggregation always recomputes them from the
// buckets rather than trusting stored numbers.
func (s *PostgresStore) NodeStatusCounts(ctx context.Context, submissionID string, validStatuses []string) ([]NodeStatusCount, error) {
	var (
		where = []string{"submission_id = $1"}
		args  = []any{submissionID}
	)
	if len(validStatuses) > 0 {
		placeholders := make([]string, len(validStatuses))
		for i, status := range validStatuses {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, status)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_type, status, COUNT(*)
		FROM data_records
		WHERE `+strings.Join(where, " AND ")+`
		GROUP BY node_type, status
		ORDER BY node_type, status
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("group node statuses: %w", err)
	}
	defer rows.Close()

	counts := make([]NodeStatusCount, 0)
	for rows.Next() {
		var row NodeStatusCount
		if err := rows.Scan(&row.NodeType, &row.Status, &row.Count); err != nil {
			return nil, fmt.Errorf("scan node status count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node status counts: %w", err)
	}
	return counts, nil
}
