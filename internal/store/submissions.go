package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const submissionColumns = `
	s.id, s.name, s.status, s.study_id, s.external_id, s.data_commons,
	s.submitter_id, s.submitter_name, s.organization_id, s.organization_name,
	s.bucket_name, s.root_path, s.metadata_validation_status,
	s.file_validation_status, s.created_at, s.updated_at
`

func scanSubmission(row interface{ Scan(...any) error }, item *Submission) error {
	return row.Scan(
		&item.ID, &item.Name, &item.Status, &item.StudyID, &item.ExternalID,
		&item.DataCommons, &item.SubmitterID, &item.SubmitterName,
		&item.OrganizationID, &item.OrganizationName, &item.BucketName,
		&item.RootPath, &item.MetadataValidationStatus,
		&item.FileValidationStatus, &item.CreatedAt, &item.UpdatedAt,
	)
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert submission: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (
			id, name, status, study_id, external_id, data_commons,
			submitter_id, submitter_name, organization_id, organization_name,
			bucket_name, root_path, metadata_validation_status, file_validation_status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		item.ID, item.Name, item.Status, item.StudyID, item.ExternalID,
		item.DataCommons, item.SubmitterID, item.SubmitterName,
		item.OrganizationID, item.OrganizationName, item.BucketName,
		item.RootPath, item.MetadataValidationStatus, item.FileValidationStatus,
	); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submission_history (submission_id, status, user_id, comment)
		VALUES ($1, $2, $3, '')
	`, item.ID, item.Status, item.SubmitterID); err != nil {
		return fmt.Errorf("insert initial history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var item Submission
	err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions s WHERE s.id=$1`, submissionID,
	), &item)
	if err != nil {
		return Submission{}, err
	}
	collaborators, err := s.listCollaborators(ctx, submissionID)
	if err != nil {
		return Submission{}, err
	}
	item.Collaborators = collaborators
	return item, nil
}

// TransitionStatus performs the atomic conditional update that linearizes
// per-submission transitions: the row moves to next only if its current
// status is one of expected, and exactly one history row is appended in the
// same transaction. A false return means the compare-and-swap found no row in
// an expected status; concurrent writers race and the first one wins.
func (s *PostgresStore) TransitionStatus(ctx context.Context, submissionID string, expected []string, next, userID, comment string) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("transition %s: empty expected status set", submissionID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(expected))
	args := []any{submissionID, next}
	for i, status := range expected {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE submissions SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("transition submission %s: %w", submissionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submission_history (submission_id, status, user_id, comment)
		VALUES ($1, $2, $3, $4)
	`, submissionID, next, userID, comment); err != nil {
		return false, fmt.Errorf("append history %s: %w", submissionID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetValidationStatus(ctx context.Context, submissionID, metadataStatus, fileStatus string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET
			metadata_validation_status = COALESCE(NULLIF($2, ''), metadata_validation_status),
			file_validation_status = COALESCE(NULLIF($3, ''), file_validation_status),
			updated_at = NOW()
		WHERE id=$1
	`, submissionID, metadataStatus, fileStatus)
	if err != nil {
		return fmt.Errorf("set validation status %s: %w", submissionID, err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, submissionID string) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, status, user_id, comment, created_at
		FROM submission_history
		WHERE submission_id=$1
		ORDER BY id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	events := make([]HistoryEvent, 0)
	for rows.Next() {
		var event HistoryEvent
		if err := rows.Scan(&event.ID, &event.SubmissionID, &event.Status, &event.UserID, &event.Comment, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

// sortColumns whitelists the caller-facing sort keys.
var sortColumns = map[string]string{
	"name":          "s.name",
	"status":        "s.status",
	"dataCommons":   "s.data_commons",
	"studyID":       "s.study_id",
	"submitterName": "s.submitter_name",
	"createdAt":     "s.created_at",
	"updatedAt":     "s.updated_at",
	"id":            "s.id",
}

// ListSubmissions runs one composite listing query. Scope restrictions and
// free filters arrive pre-reconciled in params; this layer only translates
// them to SQL. A deterministic secondary sort on id is always appended unless
// id is already the primary key, so pagination order is stable.
func (s *PostgresStore) ListSubmissions(ctx context.Context, params ListParams) ([]Submission, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	inList := func(column string, values []string) {
		placeholders := make([]string, len(values))
		for i, value := range values {
			placeholders[i] = arg(value)
		}
		where = append(where, column+" IN ("+strings.Join(placeholders, ",")+")")
	}

	if len(params.Statuses) > 0 {
		inList("s.status", params.Statuses)
	}
	if len(params.DataCommons) > 0 {
		inList("s.data_commons", params.DataCommons)
	}
	if len(params.StudyIDs) > 0 {
		inList("s.study_id", params.StudyIDs)
	}
	if len(params.IDs) > 0 {
		inList("s.id", params.IDs)
	}
	if params.Name != "" {
		where = append(where, "s.name ILIKE "+arg("%"+escapeLike(params.Name)+"%"))
	}
	if params.ExternalID != "" {
		where = append(where, "s.external_id ILIKE "+arg("%"+escapeLike(params.ExternalID)+"%"))
	}
	if params.Organization != "" {
		where = append(where, "s.organization_id = "+arg(params.Organization))
	}
	if params.SubmitterName != "" {
		where = append(where, "s.submitter_name = "+arg(params.SubmitterName))
	}
	if params.OwnerID != "" {
		owner := arg(params.OwnerID)
		where = append(where, `(s.submitter_id = `+owner+` OR EXISTS (
			SELECT 1 FROM submission_collaborators c
			WHERE c.submission_id = s.id AND c.collaborator_id = `+owner+` AND c.permission = `+arg(PermCanEdit)+`
		))`)
	}

	query := `SELECT ` + submissionColumns + `, COUNT(*) OVER() AS total FROM submissions s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	orderColumn, ok := sortColumns[params.OrderBy]
	if !ok {
		orderColumn = "s.created_at"
	}
	direction := "DESC"
	if strings.EqualFold(params.SortDirection, "asc") {
		direction = "ASC"
	}
	query += " ORDER BY " + orderColumn + " " + direction
	if orderColumn != "s.id" {
		query += ", s.id ASC"
	}

	// first = -1 disables pagination and returns the full scoped set.
	if params.First >= 0 {
		first := params.First
		if first == 0 {
			first = 10
		}
		query += " LIMIT " + arg(first)
		if params.Offset > 0 {
			query += " OFFSET " + arg(params.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var total int
	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Status, &item.StudyID, &item.ExternalID,
			&item.DataCommons, &item.SubmitterID, &item.SubmitterName,
			&item.OrganizationID, &item.OrganizationName, &item.BucketName,
			&item.RootPath, &item.MetadataValidationStatus,
			&item.FileValidationStatus, &item.CreatedAt, &item.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, total, nil
}

func escapeLike(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `%`, `\%`)
	return strings.ReplaceAll(value, `_`, `\_`)
}

func (s *PostgresStore) listCollaborators(ctx context.Context, submissionID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.collaborator_id, COALESCE(u.name, ''), c.permission
		FROM submission_collaborators c
		LEFT JOIN users u ON u.id = c.collaborator_id
		WHERE c.submission_id=$1
		ORDER BY c.collaborator_id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.CollaboratorID, &item.CollaboratorName, &item.Permission); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// ReplaceCollaborators swaps the collaborator set atomically.
func (s *PostgresStore) ReplaceCollaborators(ctx context.Context, submissionID string, collaborators []Collaborator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace collaborators: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_collaborators WHERE submission_id=$1`, submissionID); err != nil {
		return fmt.Errorf("clear collaborators: %w", err)
	}
	for _, item := range collaborators {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_collaborators (submission_id, collaborator_id, permission)
			VALUES ($1, $2, $3)
			ON CONFLICT (submission_id, collaborator_id) DO UPDATE SET permission=EXCLUDED.permission
		`, submissionID, item.CollaboratorID, item.Permission); err != nil {
			return fmt.Errorf("insert collaborator %s: %w", item.CollaboratorID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace collaborators: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var (
		user        User
		studies     []byte
		dataCommons []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, status, organization_id, studies, data_commons
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Role, &user.Status, &user.OrganizationID, &studies, &dataCommons)
	if err != nil {
		return User{}, err
	}
	if len(studies) > 0 {
		if err := json.Unmarshal(studies, &user.Studies); err != nil {
			return User{}, fmt.Errorf("decode studies for %s: %w", userID, err)
		}
	}
	if len(dataCommons) > 0 {
		if err := json.Unmarshal(dataCommons, &user.DataCommons); err != nil {
			return User{}, fmt.Errorf("decode data commons for %s: %w", userID, err)
		}
	}
	return user, nil
}

// ListStaleSubmissions returns submissions in any of the given statuses whose
// last update is older than the cutoff. Used by housekeeping.
func (s *PostgresStore) ListStaleSubmissions(ctx context.Context, statuses []string, updatedBefore time.Time) ([]Submission, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := []any{updatedBefore}
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions s
		WHERE s.updated_at < $1 AND s.status IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY s.updated_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := scanSubmission(rows, &item); err != nil {
			return nil, fmt.Errorf("scan stale submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale submissions: %w", err)
	}
	return items, nil
}

// PurgeDeletedSubmissions hard-deletes submissions marked Deleted before the
// cutoff, along with their records, history and collaborators. This is the
// only hard-delete path in the repository.
func (s *PostgresStore) PurgeDeletedSubmissions(ctx context.Context, deletedBefore time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	const target = `
		SELECT id FROM submissions WHERE status=$1 AND updated_at < $2
	`
	for _, stmt := range []string{
		`DELETE FROM data_records WHERE submission_id IN (` + target + `)`,
		`DELETE FROM submission_history WHERE submission_id IN (` + target + `)`,
		`DELETE FROM submission_collaborators WHERE submission_id IN (` + target + `)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, StatusDeleted, deletedBefore); err != nil {
			return 0, fmt.Errorf("purge dependents: %w", err)
		}
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM submissions WHERE status=$1 AND updated_at < $2`,
		StatusDeleted, deletedBefore)
	if err != nil {
		return 0, fmt.Errorf("purge submissions: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return purged, nil
}
