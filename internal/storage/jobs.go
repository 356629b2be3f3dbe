package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// UpsertJob writes the full record of j, replacing any previous version.
func (s *Store) UpsertJob(ctx context.Context, j invoice.Job) error {
	record, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", j.ID, err)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := j.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, file_name, file_type, status, review_status, config_id, record_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			review_status = excluded.review_status,
			config_id = excluded.config_id,
			record_json = excluded.record_json,
			updated_at = excluded.updated_at`,
		j.ID, j.FileName, j.FileType, string(j.Status), string(j.ReviewStatus), j.ConfigID,
		string(record), formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob returns a single job record.
func (s *Store) GetJob(ctx context.Context, id string) (invoice.Job, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM jobs WHERE id = ?`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return invoice.Job{}, ErrNotFound
	}
	if err != nil {
		return invoice.Job{}, err
	}
	return decodeJob(id, record)
}

// LoadJobs returns every job, most recent first.
func (s *Store) LoadJobs(ctx context.Context) ([]invoice.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record_json FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []invoice.Job
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		j, err := decodeJob(id, record)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJobs removes the given job records. Unknown ids are ignored.
func (s *Store) DeleteJobs(ctx context.Context, ids ...string) error {
	return s.deleteByID(ctx, "jobs", "id", ids)
}

func decodeJob(id, record string) (invoice.Job, error) {
	var j invoice.Job
	if err := json.Unmarshal([]byte(record), &j); err != nil {
		return invoice.Job{}, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return j, nil
}

func (s *Store) deleteByID(ctx context.Context, table, column string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `DELETE FROM ` + table + ` WHERE ` + column + ` IN (?` + placeholders + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}
