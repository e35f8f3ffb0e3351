package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
)

// Job описывает заказ на услугу и его платёжное состояние.
type Job struct {
	ID            uuid.UUID                 `db:"id" json:"id"`
	PostedBy      uuid.UUID                 `db:"posted_by" json:"posted_by"`
	HiredProvider *uuid.UUID                `db:"hired_provider" json:"hired_provider,omitempty"`
	Title         string                    `db:"title" json:"title"`
	Description   string                    `db:"description" json:"description"`
	Category      string                    `db:"category" json:"category"`
	Location      string                    `db:"location" json:"location"`
	Price         decimal.Decimal           `db:"price" json:"price"`
	ScheduledFor  *time.Time                `db:"scheduled_for" json:"scheduled_for,omitempty"`
	Status        valueobject.JobStatus     `db:"status" json:"status"`
	PaymentStatus valueobject.PaymentStatus `db:"payment_status" json:"payment_status"`
	TransactionID *uuid.UUID                `db:"transaction_id" json:"transaction_id,omitempty"`
	EscrowEndDate *time.Time                `db:"escrow_end_date" json:"escrow_end_date,omitempty"`
	CompletedAt   *time.Time                `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                 `db:"updated_at" json:"updated_at"`
}

// IsPostedBy проверяет, что пользователь является покупателем заказа.
func (j *Job) IsPostedBy(userID uuid.UUID) bool {
	return j != nil && j.PostedBy == userID
}

// IsHired проверяет назначенного исполнителя.
func (j *Job) IsHired(userID uuid.UUID) bool {
	return j != nil && j.HiredProvider != nil && *j.HiredProvider == userID
}

// DueForRelease сообщает, что заказ в удержании и срок истёк.
func (j *Job) DueForRelease(now time.Time) bool {
	return j.Status == valueobject.JobStatusInProgress &&
		j.PaymentStatus == valueobject.PaymentStatusInEscrow &&
		j.EscrowEndDate != nil && !now.Before(*j.EscrowEndDate)
}

// SecondsUntilRelease возвращает остаток периода удержания, округлённый вверх.
func (j *Job) SecondsUntilRelease(now time.Time) int64 {
	if j.EscrowEndDate == nil {
		return 0
	}
	left := j.EscrowEndDate.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int64(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

// JobView ответ GET /jobs/{id}.
type JobView struct {
	Job
	SecondsUntilRelease *int64 `json:"seconds_until_release,omitempty"`
}
