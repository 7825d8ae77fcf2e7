package repository

import (
	"context"
	"time"

	"demark/models"
)

type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	Find(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	// FindStale returns active jobs whose last update predates the cutoff.
	FindStale(ctx context.Context, before time.Time) ([]*models.Job, error)
}
