package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Payload is the cached original file behind a job.
type Payload struct {
	JobID     string
	FileName  string
	MIMEType  string
	Data      []byte
	CreatedAt time.Time
}

// PutPayload caches the original bytes of a job's file.
func (s *Store) PutPayload(ctx context.Context, p Payload) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payloads (job_id, file_name, mime_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			file_name = excluded.file_name,
			mime_type = excluded.mime_type,
			size = excluded.size,
			data = excluded.data`,
		p.JobID, p.FileName, p.MIMEType, len(p.Data), p.Data, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("caching payload for %s: %w", p.JobID, err)
	}
	return nil
}

// GetPayload returns the cached file for jobID.
func (s *Store) GetPayload(ctx context.Context, jobID string) (Payload, error) {
	var p Payload
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, file_name, mime_type, data, created_at
		FROM payloads WHERE job_id = ?`, jobID,
	).Scan(&p.JobID, &p.FileName, &p.MIMEType, &p.Data, &created)
	if err == sql.ErrNoRows {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", created); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// HasPayload reports whether a file is cached for jobID without loading it.
func (s *Store) HasPayload(ctx context.Context, jobID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payloads WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeletePayloads evicts cached files. Unknown ids are ignored.
func (s *Store) DeletePayloads(ctx context.Context, jobIDs ...string) error {
	return s.deleteByID(ctx, "payloads", "job_id", jobIDs)
}
