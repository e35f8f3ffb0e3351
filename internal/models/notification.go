package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы уведомлений
const (
	NotificationJobAssigned   = "job_assigned"
	NotificationPayment       = "payment"
	NotificationJobCompleted  = "job_completed"
	NotificationJobCancelled  = "job_cancelled"
	NotificationPaymentFailed = "payment_failed"
	NotificationWithdrawal    = "withdrawal"
)

// Сущности, на которые ссылается уведомление.
const (
	RelatedJob         = "job"
	RelatedTransaction = "transaction"
)

// Related ссылка уведомления на заказ или транзакцию.
type Related struct {
	ID   uuid.UUID
	Type string
}

func RelatedToJob(id uuid.UUID) *Related {
	return &Related{ID: id, Type: RelatedJob}
}

func RelatedToTransaction(id uuid.UUID) *Related {
	return &Related{ID: id, Type: RelatedTransaction}
}

// Notification описывает событие, отправленное пользователю.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	Type        string     `db:"type" json:"type"`
	Message     string     `db:"message" json:"message"`
	RelatedID   *uuid.UUID `db:"related_id" json:"related_id,omitempty"`
	RelatedType *string    `db:"related_type" json:"related_type,omitempty"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// SetRelated проставляет ссылку, nil оставляет уведомление без неё.
func (n *Notification) SetRelated(r *Related) {
	if r == nil {
		n.RelatedID, n.RelatedType = nil, nil
		return
	}
	id, kind := r.ID, r.Type
	n.RelatedID, n.RelatedType = &id, &kind
}
