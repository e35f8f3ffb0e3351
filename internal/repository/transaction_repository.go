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

const transactionColumns = `id, job_id, customer_id, provider_id, payment_id, amount, service_fee, status, type,
	payment_method, payout_email, description, approved_at, created_at, updated_at`

// TransactionRepository журнал денежных операций.
type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByID возвращает транзакцию по идентификатору.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.getBy(ctx, "id", id)
}

// GetByPaymentID ищет транзакцию по идентификатору платежа у шлюза.
func (r *TransactionRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	return r.getBy(ctx, "payment_id", paymentID)
}

// LatestForJob последняя оплата по заказу.
func (r *TransactionRepository) LatestForJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE job_id = $1 AND type = 'job_payment'
		ORDER BY created_at DESC LIMIT 1`, transactionColumns)
	return common.GetOne[models.Transaction](ctx, r.db, apperror.ErrTransactionNotFound,
		"transaction repository: latest for job", query, jobID)
}

func (r *TransactionRepository) getBy(ctx context.Context, field string, value interface{}) (*models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s = $1`, transactionColumns, field)
	return common.GetOne[models.Transaction](ctx, r.db, apperror.ErrTransactionNotFound,
		"transaction repository: get by "+field, query, value)
}

// MarkApproved фиксирует, что покупатель подтвердил заказ у шлюза. Статус не меняется.
func (r *TransactionRepository) MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET approved_at = COALESCE(approved_at, $2), updated_at = $2
		WHERE id = $1 AND status = 'pending_capture'
	`, id, at)
	if err != nil {
		return fmt.Errorf("transaction repository: mark approved %w", err)
	}
	return nil
}

// ListForUser последние операции, где пользователь покупатель или исполнитель.
func (r *TransactionRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT t.id, t.job_id, t.customer_id, t.provider_id, t.payment_id, t.amount, t.service_fee,
			t.status, t.type, t.payment_method, t.payout_email, t.description, t.approved_at,
			t.created_at, t.updated_at, j.title AS job_title, j.category AS job_category
		FROM transactions t
		LEFT JOIN jobs j ON j.id = t.job_id
		WHERE t.customer_id = $1 OR t.provider_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`
	var items []models.UserTransaction
	if err := r.db.SelectContext(ctx, &items, query, userID, limit); err != nil {
		return nil, fmt.Errorf("transaction repository: list for user %w", err)
	}
	return items, nil
}
