package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

// EscrowLedger атомарные переходы заказа, транзакции и баланса в одной транзакции БД.
// Строки читаются под FOR UPDATE, заказ всегда раньше транзакции, решение о переходе
// принимает entity. Выплата исполнителю остаётся условным UPDATE по статусу заказа.
type EscrowLedger struct {
	db *sqlx.DB
}

func NewEscrowLedger(db *sqlx.DB) *EscrowLedger {
	return &EscrowLedger{db: db}
}

var _ domainrepo.EscrowLedger = (*EscrowLedger)(nil)

// Hire назначает исполнителя и открывает оплату заказа.
// Неподтверждённая покупателем оплата заменяется новой, подтверждённая блокирует повторный выбор.
func (r *EscrowLedger) Hire(ctx context.Context, in domainrepo.HireParams) error {
	t := in.Transaction
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		job, err := lockJob(ctx, tx, in.JobID)
		if err != nil {
			return err
		}
		if err := entity.CheckHire(job, entity.Actor{UserID: t.CustomerID}, in.ProviderID); err != nil {
			return err
		}

		var open []models.Transaction
		if err := tx.SelectContext(ctx, &open, `
			SELECT `+transactionColumns+` FROM transactions
			WHERE job_id = $1 AND type = 'job_payment' AND status IN ('pending_capture', 'in_escrow')
			FOR UPDATE
		`, in.JobID); err != nil {
			return fmt.Errorf("escrow ledger: hire load open payments %w", err)
		}
		if err := entity.CheckRehire(open...); err != nil {
			return err
		}
		for i := range open {
			open[i].Status = valueobject.TransactionStatusFailed
			open[i].UpdatedAt = t.CreatedAt
			if err := saveTransactionStatus(ctx, tx, &open[i]); err != nil {
				return err
			}
		}

		entity.ApplyHire(job, in.ProviderID, t.CreatedAt)
		if err := saveJob(ctx, tx, job); err != nil {
			return err
		}

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO transactions (id, job_id, customer_id, payment_id, amount, service_fee, status, type,
				payment_method, description, created_at, updated_at)
			VALUES (:id, :job_id, :customer_id, :payment_id, :amount, :service_fee, :status, :type,
				:payment_method, :description, :created_at, :updated_at)
		`, t); err != nil {
			return fmt.Errorf("escrow ledger: hire insert transaction %w", err)
		}
		return nil
	})
}

// StartEscrow переводит транзакцию в удержание, а заказ в работу.
func (r *EscrowLedger) StartEscrow(ctx context.Context, in domainrepo.StartEscrowParams) (*models.Job, error) {
	var job *models.Job
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		job, err = lockJob(ctx, tx, in.JobID)
		if err != nil {
			return err
		}
		t, err := lockTransaction(ctx, tx, in.TransactionID)
		if err != nil {
			return err
		}
		if err := entity.CheckStartEscrow(job, t); err != nil {
			return err
		}

		entity.ApplyStartEscrow(job, t, in.EscrowEndDate, in.Now)
		if err := saveTransactionStatus(ctx, tx, t); err != nil {
			return err
		}
		if err := saveJob(ctx, tx, job); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET total_spending = total_spending + $2, updated_at = $3 WHERE id = $1
		`, t.CustomerID, t.Amount, in.Now); err != nil {
			return fmt.Errorf("escrow ledger: start escrow update spending %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Release завершает заказ и зачисляет исполнителю amount - serviceFee.
// Условие на статус заказа гарантирует не больше одного зачисления.
func (r *EscrowLedger) Release(ctx context.Context, jobID uuid.UUID, now time.Time) (*models.ReleaseResult, error) {
	result := &models.ReleaseResult{JobID: jobID, CompletedAt: now}

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var job struct {
			Title         string     `db:"title"`
			PostedBy      uuid.UUID  `db:"posted_by"`
			HiredProvider *uuid.UUID `db:"hired_provider"`
			TransactionID *uuid.UUID `db:"transaction_id"`
		}
		err := tx.GetContext(ctx, &job, `
			UPDATE jobs SET status = 'completed', payment_status = 'released',
				escrow_end_date = NULL, completed_at = $2, updated_at = $2
			WHERE id = $1 AND status = 'in_progress' AND payment_status = 'in_escrow'
			RETURNING title, posted_by, hired_provider, transaction_id
		`, jobID, now)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID); err != nil {
				return fmt.Errorf("escrow ledger: release check job %w", err)
			}
			if !exists {
				return apperror.ErrJobNotFound
			}
			// уже завершён или ещё не оплачен
			return nil
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: release update job %w", err)
		}
		if job.HiredProvider == nil || job.TransactionID == nil {
			return fmt.Errorf("escrow ledger: job %s in escrow without provider or transaction", jobID)
		}

		var charged struct {
			Amount     decimal.Decimal `db:"amount"`
			ServiceFee decimal.Decimal `db:"service_fee"`
		}
		err = tx.GetContext(ctx, &charged, `
			UPDATE transactions SET status = 'released', provider_id = $2, updated_at = $3
			WHERE id = $1 AND status = 'in_escrow'
			RETURNING amount, service_fee
		`, *job.TransactionID, *job.HiredProvider, now)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: release update transaction %w", err)
		}

		share := valueobject.ProviderShare(charged.Amount, charged.ServiceFee)
		var balance struct {
			Available decimal.Decimal `db:"available_balance"`
			Earnings  decimal.Decimal `db:"total_earnings"`
		}
		err = tx.GetContext(ctx, &balance, `
			UPDATE users SET available_balance = available_balance + $2,
				total_earnings = total_earnings + $2, updated_at = $3
			WHERE id = $1
			RETURNING available_balance, total_earnings
		`, *job.HiredProvider, share, now)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: release credit provider %w", err)
		}

		result.Eligible = true
		result.JobTitle = job.Title
		result.BuyerID = job.PostedBy
		result.ProviderID = *job.HiredProvider
		result.TransactionID = *job.TransactionID
		result.ProviderAmount = share
		result.ProviderBalance = balance.Available
		result.ProviderEarnings = balance.Earnings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel отменяет активный заказ и закрывает ожидающую оплату.
func (r *EscrowLedger) Cancel(ctx context.Context, jobID, actorID uuid.UUID, now time.Time) (*models.Job, error) {
	var job *models.Job
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		job, err = lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := entity.CheckCancel(job, entity.Actor{UserID: actorID}); err != nil {
			return err
		}

		entity.ApplyCancel(job, now)
		if err := saveJob(ctx, tx, job); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = 'failed', updated_at = $2
			WHERE job_id = $1 AND type = 'job_payment' AND status = 'pending_capture'
		`, jobID, now); err != nil {
			return fmt.Errorf("escrow ledger: cancel close payments %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DenyPayment отмечает транзакцию проваленной и возвращает заказ в активные.
// Повторный отказ по проваленной транзакции ничего не меняет.
func (r *EscrowLedger) DenyPayment(ctx context.Context, in domainrepo.DenyPaymentParams) (*models.Job, error) {
	var job *models.Job
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		// job_id читается без блокировки, чтобы заказ заблокировать первым
		var jobID *uuid.UUID
		err := tx.GetContext(ctx, &jobID, `SELECT job_id FROM transactions WHERE id = $1`, in.TransactionID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: deny find transaction %w", err)
		}

		var j *models.Job
		if jobID != nil {
			if j, err = lockJob(ctx, tx, *jobID); err != nil {
				return err
			}
		}
		t, err := lockTransaction(ctx, tx, in.TransactionID)
		if err != nil {
			return err
		}

		noop, err := entity.CheckDenyPayment(j, t)
		if err != nil || noop {
			return err
		}
		wasCharged := t.Status == valueobject.TransactionStatusInEscrow

		entity.ApplyDenyPayment(j, t, in.Now)
		if err := saveTransactionStatus(ctx, tx, t); err != nil {
			return err
		}
		if wasCharged {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET total_spending = GREATEST(total_spending - $2, 0), updated_at = $3 WHERE id = $1
			`, t.CustomerID, t.Amount, in.Now); err != nil {
				return fmt.Errorf("escrow ledger: deny revert spending %w", err)
			}
		}
		if j == nil {
			return nil
		}
		if err := saveJob(ctx, tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Withdraw списывает сумму с баланса и создаёт транзакцию вывода.
// payout вызывается до фиксации, его ошибка откатывает списание.
func (r *EscrowLedger) Withdraw(ctx context.Context, in domainrepo.WithdrawParams, payout domainrepo.PayoutFunc) (*models.WithdrawResult, error) {
	result := &models.WithdrawResult{}
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &result.NewBalance, `
			UPDATE users SET available_balance = available_balance - $2, payout_email = $3, updated_at = $4
			WHERE id = $1 AND available_balance >= $2
			RETURNING available_balance
		`, in.UserID, in.Amount, in.PayoutEmail, in.Now)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, in.UserID); err != nil {
				return fmt.Errorf("escrow ledger: withdraw check user %w", err)
			}
			if !exists {
				return apperror.ErrUserNotFound
			}
			return apperror.ErrInsufficientFunds
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: withdraw debit %w", err)
		}

		email := in.PayoutEmail
		desc := "Вывод средств на " + email
		userID := in.UserID
		t := &models.Transaction{
			ID:            uuid.New(),
			CustomerID:    in.UserID,
			ProviderID:    &userID,
			PaymentID:     in.PaymentID,
			Amount:        in.Amount,
			ServiceFee:    decimal.Zero,
			Status:        valueobject.TransactionStatusCompleted,
			Type:          valueobject.TransactionTypeWithdrawal,
			PaymentMethod: models.PaymentMethodPayPal,
			PayoutEmail:   &email,
			Description:   &desc,
			CreatedAt:     in.Now,
			UpdatedAt:     in.Now,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO transactions (id, customer_id, provider_id, payment_id, amount, service_fee, status, type,
				payment_method, payout_email, description, created_at, updated_at)
			VALUES (:id, :customer_id, :provider_id, :payment_id, :amount, :service_fee, :status, :type,
				:payment_method, :payout_email, :description, :created_at, :updated_at)
		`, t); err != nil {
			return fmt.Errorf("escrow ledger: withdraw insert transaction %w", err)
		}

		if payout != nil {
			if err := payout(ctx, t); err != nil {
				return err
			}
		}
		result.Transaction = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile пересчитывает агрегаты по журналу под блокировкой строки пользователя.
func (r *EscrowLedger) Reconcile(ctx context.Context, userID uuid.UUID) (*models.Reconciliation, error) {
	rec := &models.Reconciliation{UserID: userID}
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var stored struct {
			Available decimal.Decimal `db:"available_balance"`
			Earnings  decimal.Decimal `db:"total_earnings"`
			Spending  decimal.Decimal `db:"total_spending"`
		}
		err := tx.GetContext(ctx, &stored, `
			SELECT available_balance, total_earnings, total_spending FROM users WHERE id = $1 FOR UPDATE
		`, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("escrow ledger: reconcile lock user %w", err)
		}

		var totals models.LedgerTotals
		if err := tx.GetContext(ctx, &totals, `
			SELECT
				COALESCE(SUM(amount - service_fee) FILTER (
					WHERE provider_id = $1 AND type = 'job_payment' AND status = 'released'), 0) AS released_earnings,
				COALESCE(SUM(amount) FILTER (
					WHERE provider_id = $1 AND type = 'withdrawal' AND status = 'completed'), 0) AS completed_withdrawals,
				COALESCE(SUM(amount) FILTER (
					WHERE customer_id = $1 AND type = 'job_payment' AND status IN ('in_escrow', 'released', 'completed')), 0) AS spending
			FROM transactions
			WHERE provider_id = $1 OR customer_id = $1
		`, userID); err != nil {
			return fmt.Errorf("escrow ledger: reconcile totals %w", err)
		}

		rec.Stored = models.FinanceTotals{
			AvailableBalance: stored.Available,
			TotalEarnings:    stored.Earnings,
			TotalSpending:    stored.Spending,
		}
		rec.Actual = ActualTotals(totals)

		if !NeedsCorrection(rec.Stored, rec.Actual) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET available_balance = $2, total_earnings = $3, total_spending = $4, updated_at = NOW()
			WHERE id = $1
		`, userID, rec.Actual.AvailableBalance, rec.Actual.TotalEarnings, rec.Actual.TotalSpending); err != nil {
			return fmt.Errorf("escrow ledger: reconcile correct %w", err)
		}
		rec.Corrected = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ActualTotals переводит суммы журнала в ожидаемые агрегаты пользователя.
func ActualTotals(t models.LedgerTotals) models.FinanceTotals {
	earnings := valueobject.RoundCents(t.ReleasedEarnings)
	return models.FinanceTotals{
		AvailableBalance: valueobject.NonNegative(valueobject.RoundCents(earnings.Sub(t.CompletedWithdrawals))),
		TotalEarnings:    earnings,
		TotalSpending:    valueobject.RoundCents(t.Spending),
	}
}

// NeedsCorrection true, если хотя бы один агрегат разошёлся больше чем на цент.
func NeedsCorrection(stored, actual models.FinanceTotals) bool {
	return valueobject.Drifted(stored.AvailableBalance, actual.AvailableBalance) ||
		valueobject.Drifted(stored.TotalEarnings, actual.TotalEarnings) ||
		valueobject.Drifted(stored.TotalSpending, actual.TotalSpending)
}

// lockJob читает заказ под блокировкой строки.
func lockJob(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := tx.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow ledger: lock job %w", err)
	}
	return &job, nil
}

// lockTransaction читает транзакцию под блокировкой строки.
func lockTransaction(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := tx.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow ledger: lock transaction %w", err)
	}
	return &t, nil
}

// saveJob записывает поля заказа, которые меняют переходы.
func saveJob(ctx context.Context, tx *sqlx.Tx, job *models.Job) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, payment_status = $3, hired_provider = $4, transaction_id = $5,
			escrow_end_date = $6, updated_at = $7
		WHERE id = $1
	`, job.ID, job.Status, job.PaymentStatus, job.HiredProvider, job.TransactionID, job.EscrowEndDate, job.UpdatedAt); err != nil {
		return fmt.Errorf("escrow ledger: save job %w", err)
	}
	return nil
}

func saveTransactionStatus(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1
	`, t.ID, t.Status, t.UpdatedAt); err != nil {
		return fmt.Errorf("escrow ledger: save transaction %w", err)
	}
	return nil
}
