package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"demark/errors"
	"demark/models"
)

type Repository struct {
	db    *sql.DB
	stmts preparedStatements
}

func NewRepository(db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.stmts.Prepare(context.Background(), db); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.stmts.Close()
}

func (r *Repository) Save(ctx context.Context, job *models.Job) error {
	const op = "SQLiteRepository.Save"

	for i := 0; i < 3; i++ { // Simple retry logic
		err := r.save(ctx, job)
		if err == nil {
			return nil
		}
		if !isLockError(err) {
			return errors.Internal(op, err, "Failed to save job")
		}
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return errors.Internal(op, nil, "Failed after retries")
}

func (r *Repository) save(ctx context.Context, job *models.Job) error {
	_, err := r.stmts.save.ExecContext(ctx,
		job.ID,
		job.Filename,
		job.Size,
		string(job.Status),
		job.UploadURL,
		job.RequestID,
		job.ResultURL,
		job.OutputPath,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (r *Repository) Find(ctx context.Context, id string) (*models.Job, error) {
	const op = "SQLiteRepository.Find"

	job, err := scanJob(r.stmts.get.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Job not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query job")
	}

	return job, nil
}

func (r *Repository) List(ctx context.Context) ([]*models.Job, error) {
	const op = "SQLiteRepository.List"

	rows, err := r.stmts.list.QueryContext(ctx)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to list jobs")
	}
	defer rows.Close()

	return collectJobs(op, rows)
}

func (r *Repository) FindStale(ctx context.Context, before time.Time) ([]*models.Job, error) {
	const op = "SQLiteRepository.FindStale"

	rows, err := r.stmts.getStale.QueryContext(ctx,
		string(models.StatusQueued),
		string(models.StatusUploading),
		string(models.StatusSubmitted),
		string(models.StatusProcessing),
		before,
	)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query stale jobs")
	}
	defer rows.Close()

	return collectJobs(op, rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	job := &models.Job{}
	var status string

	err := row.Scan(
		&job.ID,
		&job.Filename,
		&job.Size,
		&status,
		&job.UploadURL,
		&job.RequestID,
		&job.ResultURL,
		&job.OutputPath,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.Status(status)
	return job, nil
}

func collectJobs(op string, rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Internal(op, err, "Failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal(op, err, "Failed to iterate jobs")
	}
	return jobs, nil
}

func isLockError(err error) bool {
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "busy")
}
