package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"demark/errors"
)

const (
	saveJobQuery = `
        INSERT INTO jobs (
            id, filename, size, status, upload_url,
            request_id, result_url, output_path, error,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            upload_url = excluded.upload_url,
            request_id = excluded.request_id,
            result_url = excluded.result_url,
            output_path = excluded.output_path,
            error = excluded.error,
            updated_at = excluded.updated_at
    `

	getJobQuery = `
        SELECT id, filename, size, status, upload_url,
               request_id, result_url, output_path, error,
               created_at, updated_at
        FROM jobs WHERE id = ?
    `

	listJobsQuery = `
        SELECT id, filename, size, status, upload_url,
               request_id, result_url, output_path, error,
               created_at, updated_at
        FROM jobs ORDER BY created_at DESC, id
    `

	getStaleJobsQuery = `
        SELECT id, filename, size, status, upload_url,
               request_id, result_url, output_path, error,
               created_at, updated_at
        FROM jobs
        WHERE status IN (?, ?, ?, ?) AND updated_at < ?
    `
)

type preparedStatements struct {
	save     *sql.Stmt
	get      *sql.Stmt
	list     *sql.Stmt
	getStale *sql.Stmt
}

func (stmts *preparedStatements) Prepare(ctx context.Context, db *sql.DB) error {
	const op = "preparedStatements.Prepare"

	var err error

	if stmts.save, err = db.PrepareContext(ctx, saveJobQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare save statement")
	}

	if stmts.get, err = db.PrepareContext(ctx, getJobQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare get statement")
	}

	if stmts.list, err = db.PrepareContext(ctx, listJobsQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare list statement")
	}

	if stmts.getStale, err = db.PrepareContext(ctx, getStaleJobsQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare getStale statement")
	}

	return nil
}

func (stmts *preparedStatements) Close() error {
	var errs []error

	statements := [...]*sql.Stmt{
		stmts.save,
		stmts.get,
		stmts.list,
		stmts.getStale,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close prepared statements: %v", errs)
	}

	return nil
}
