package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recogito/studio-jobs/internal/domain"
)

const jobColumns = `id, name, job_type, job_status, bucket_id, created_at, created_by`

// Storage manages job records
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob inserts a new job in the jobs bucket with status initializing
func (s *Storage) CreateJob(ctx context.Context, name string, jobType domain.JobType, createdBy string) (*domain.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, jobType)
	}

	job := &domain.Job{
		ID:        uuid.New().String(),
		Name:      name,
		JobType:   jobType,
		JobStatus: domain.JobStatusInitializing,
		BucketID:  domain.JobsBucket,
		CreatedAt: s.now(),
		CreatedBy: createdBy,
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		job.JobType,
		job.JobStatus,
		job.BucketID,
		job.CreatedAt,
		job.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.JobType)),
		slog.String("created_by", job.CreatedBy),
	)

	return job, nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows a job listing
type JobFilter struct {
	CreatedBy string
	JobType   domain.JobType
	Status    domain.JobStatus
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

type jobRow struct {
	domain.Job
	ProfileID        sql.NullString `db:"profile_id"`
	ProfileNickname  sql.NullString `db:"profile_nickname"`
	ProfileFirstName sql.NullString `db:"profile_first_name"`
	ProfileLastName  sql.NullString `db:"profile_last_name"`
	ProfileAvatarURL sql.NullString `db:"profile_avatar_url"`
}

// GetJobs lists jobs newest first, with the creator's profile.
// When PageSize is set one extra row is fetched so callers can tell whether more pages exist.
func (s *Storage) GetJobs(ctx context.Context, filter JobFilter) ([]domain.JobWithProfile, error) {
	query := `
		SELECT
			j.id, j.name, j.job_type, j.job_status, j.bucket_id, j.created_at, j.created_by,
			p.id AS profile_id,
			p.nickname AS profile_nickname,
			p.first_name AS profile_first_name,
			p.last_name AS profile_last_name,
			p.avatar_url AS profile_avatar_url
		FROM jobs j
		LEFT JOIN profiles p ON p.id = j.created_by
		WHERE 1=1
	`
	args := []any{}

	if filter.CreatedBy != "" {
		query += " AND j.created_by = ?"
		args = append(args, filter.CreatedBy)
	}

	if filter.JobType != "" {
		query += " AND j.job_type = ?"
		args = append(args, filter.JobType)
	}

	if filter.Status != "" {
		query += " AND j.job_status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (j.created_at, j.id) < (?, ?)"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += " ORDER BY j.created_at DESC, j.id DESC"

	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.JobWithProfile, len(rows))
	for i, row := range rows {
		jobs[i] = domain.JobWithProfile{Job: row.Job}
		if row.ProfileID.Valid {
			jobs[i].Profile = &domain.Profile{
				ID:        row.ProfileID.String,
				Nickname:  nullable(row.ProfileNickname),
				FirstName: nullable(row.ProfileFirstName),
				LastName:  nullable(row.ProfileLastName),
				AvatarURL: nullable(row.ProfileAvatarURL),
			}
		}
	}

	return jobs, nil
}

// UpdateJob applies a partial update keyed by ID.
// A status change only applies from the status's legal predecessor.
func (s *Storage) UpdateJob(ctx context.Context, update domain.JobUpdate) (*domain.Job, error) {
	if update.ID == "" {
		return nil, fmt.Errorf("job id is required for update")
	}

	sets := []string{}
	args := []any{}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}

	var where string
	if update.JobStatus != nil {
		prev, ok := update.JobStatus.Predecessor()
		if !ok {
			return nil, fmt.Errorf("%w: cannot set status %q", domain.ErrInvalidTransition, *update.JobStatus)
		}
		sets = append(sets, "job_status = ?")
		args = append(args, *update.JobStatus)
		where = " AND job_status = ?"
		args = append(args, update.ID, prev)
	} else {
		args = append(args, update.ID)
	}

	if len(sets) == 0 {
		return s.GetJob(ctx, update.ID)
	}

	query := s.db.Rebind(`UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?` + where +
		` RETURNING ` + jobColumns)

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missOrConflict(ctx, update.ID)
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	s.logger.Info("Job updated",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.JobStatus)),
	)

	return &job, nil
}

// TransitionStatus moves a job from one status to the next.
// The update only lands if the job is still in the from status.
func (s *Storage) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := s.db.Rebind(`
		UPDATE jobs
		SET job_status = ?
		WHERE id = ? AND job_status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, to, jobID, from)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update - no rows affected",
			slog.String("job_id", jobID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return s.missOrConflict(ctx, jobID)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	return nil
}

// DeleteJob deletes a job by exact ID and returns the deleted rows.
// Deleting a missing job returns an empty slice. A processing job is not
// deleted and yields ErrInvalidTransition.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) ([]domain.Job, error) {
	query := s.db.Rebind(`DELETE FROM jobs WHERE id = ? AND job_status <> ? RETURNING ` + jobColumns)

	deleted := []domain.Job{}
	if err := s.db.SelectContext(ctx, &deleted, query, jobID, domain.JobStatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}

	if len(deleted) == 0 {
		err := s.missOrConflict(ctx, jobID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return deleted, nil
		}
		return nil, err
	}

	s.logger.Info("Job deleted",
		slog.String("job_id", jobID),
		slog.Int("rows", len(deleted)),
	)

	return deleted, nil
}

// missOrConflict tells a missing job apart from one in the wrong status
func (s *Storage) missOrConflict(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.JobStatus)
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
