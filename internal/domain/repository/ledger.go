package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/models"
)

// JobRepository хранение заказов.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListDueForRelease заказы в удержании со сроком не позже dueBefore.
	// Заказ с неудачной попыткой выплаты позже retryBefore пропускается.
	ListDueForRelease(ctx context.Context, dueBefore, retryBefore time.Time, limit int) ([]models.Job, error)
	// MarkReleaseAttempt отмечает неудачную попытку выплаты.
	MarkReleaseAttempt(ctx context.Context, jobID uuid.UUID, at time.Time) error
}

// TransactionRepository журнал денежных операций.
type TransactionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
	LatestForJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error)
	MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserTransaction, error)
}

// UserRepository финансовые агрегаты пользователя.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// HireParams выбор исполнителя и открытие оплаты.
type HireParams struct {
	JobID       uuid.UUID
	ProviderID  uuid.UUID
	Transaction *models.Transaction
}

// StartEscrowParams перевод оплаченного заказа в работу.
type StartEscrowParams struct {
	JobID         uuid.UUID
	TransactionID uuid.UUID
	EscrowEndDate time.Time
	Now           time.Time
}

// DenyPaymentParams отказ в списании.
type DenyPaymentParams struct {
	TransactionID uuid.UUID
	Now           time.Time
}

// WithdrawParams вывод средств исполнителем.
type WithdrawParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	PayoutEmail string
	PaymentID   string
	Now         time.Time
}

// PayoutFunc вызывается внутри операции вывода до фиксации.
// Ошибка откатывает списание с баланса.
type PayoutFunc func(ctx context.Context, tx *models.Transaction) error

// EscrowLedger атомарные операции над несколькими строками.
// Каждая операция либо применяется целиком, либо не применяется вовсе,
// а переходы проверяются условием на текущее состояние строки.
type EscrowLedger interface {
	Hire(ctx context.Context, in HireParams) error
	StartEscrow(ctx context.Context, in StartEscrowParams) (*models.Job, error)
	// Release возвращает Eligible=false, если заказ уже не в удержании.
	Release(ctx context.Context, jobID uuid.UUID, now time.Time) (*models.ReleaseResult, error)
	Cancel(ctx context.Context, jobID, actorID uuid.UUID, now time.Time) (*models.Job, error)
	DenyPayment(ctx context.Context, in DenyPaymentParams) (*models.Job, error)
	Withdraw(ctx context.Context, in WithdrawParams, payout PayoutFunc) (*models.WithdrawResult, error)
	// Reconcile пересчитывает агрегаты пользователя по журналу и исправляет расхождения.
	Reconcile(ctx context.Context, userID uuid.UUID) (*models.Reconciliation, error)
}

// NotificationRepository хранение уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
}

// SettingsRepository настройки платформы в виде ключ-значение.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, time.Time, error)
	Set(ctx context.Context, key, value string, at time.Time) error
}
