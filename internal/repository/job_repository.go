package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

const jobColumns = `id, posted_by, hired_provider, title, description, category, location, price,
	scheduled_for, status, payment_status, transaction_id, escrow_end_date, completed_at, created_at, updated_at`

// JobRepository отвечает за работу с заказами.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository создаёт экземпляр репозитория.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create сохраняет новый заказ.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, posted_by, title, description, category, location, price,
			scheduled_for, status, payment_status, created_at, updated_at)
		VALUES (:id, :posted_by, :title, :description, :category, :location, :price,
			:scheduled_for, :status, :payment_status, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("job repository: create %w", err)
	}
	return nil
}

// GetByID возвращает заказ по идентификатору.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetOne[models.Job](ctx, r.db, apperror.ErrJobNotFound,
		"job repository: get by id", `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// ListDueForRelease возвращает заказы, у которых срок удержания наступит не позже dueBefore.
// Заказы без неудачных попыток идут первыми, поэтому сбойные не занимают весь лимит прохода.
func (r *JobRepository) ListDueForRelease(ctx context.Context, dueBefore, retryBefore time.Time, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'in_progress' AND payment_status = 'in_escrow' AND escrow_end_date <= $1
			AND (release_attempted_at IS NULL OR release_attempted_at <= $2)
		ORDER BY release_attempted_at ASC NULLS FIRST, escrow_end_date ASC
		LIMIT $3
	`
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, dueBefore, retryBefore, limit); err != nil {
		return nil, fmt.Errorf("job repository: list due for release %w", err)
	}
	return jobs, nil
}

// MarkReleaseAttempt запоминает время неудачной выплаты.
func (r *JobRepository) MarkReleaseAttempt(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE jobs SET release_attempted_at = $2 WHERE id = $1`, jobID, at); err != nil {
		return fmt.Errorf("job repository: mark release attempt %w", err)
	}
	return nil
}
