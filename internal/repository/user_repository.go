package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

const userColumns = `id, email, name, role, payout_email, available_balance, total_earnings, total_spending, created_at, updated_at`

// UserRepository финансовые данные пользователей.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID возвращает пользователя вместе с балансом.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return common.GetOne[models.User](ctx, r.db, apperror.ErrUserNotFound,
		"user repository: get by id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}
