package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
)

// Способы оплаты
const (
	PaymentMethodPayPal = "paypal"
	PaymentMethodCard   = "card"
)

// Transaction запись о движении денег: оплата заказа или вывод средств.
type Transaction struct {
	ID            uuid.UUID                     `db:"id" json:"id"`
	JobID         *uuid.UUID                    `db:"job_id" json:"job_id,omitempty"`
	CustomerID    uuid.UUID                     `db:"customer_id" json:"customer_id"`
	ProviderID    *uuid.UUID                    `db:"provider_id" json:"provider_id,omitempty"`
	PaymentID     string                        `db:"payment_id" json:"payment_id"`
	Amount        decimal.Decimal               `db:"amount" json:"amount"`
	ServiceFee    decimal.Decimal               `db:"service_fee" json:"service_fee"`
	Status        valueobject.TransactionStatus `db:"status" json:"status"`
	Type          valueobject.TransactionType   `db:"type" json:"type"`
	PaymentMethod string                        `db:"payment_method" json:"payment_method"`
	PayoutEmail   *string                       `db:"payout_email" json:"payout_email,omitempty"`
	Description   *string                       `db:"description" json:"description,omitempty"`
	ApprovedAt    *time.Time                    `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt     time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                     `db:"updated_at" json:"updated_at"`
}

// ProviderAmount сумма, которую получает исполнитель после комиссии.
func (t *Transaction) ProviderAmount() decimal.Decimal {
	return valueobject.ProviderShare(t.Amount, t.ServiceFee)
}

// UserTransaction строка истории операций пользователя вместе с данными заказа.
type UserTransaction struct {
	Transaction
	JobTitle    *string `db:"job_title" json:"job_title,omitempty"`
	JobCategory *string `db:"job_category" json:"job_category,omitempty"`
}

// ReleaseResult итог попытки выплаты исполнителю.
type ReleaseResult struct {
	Eligible         bool            `json:"eligible"`
	JobID            uuid.UUID       `json:"job_id"`
	JobTitle         string          `json:"job_title,omitempty"`
	BuyerID          uuid.UUID       `json:"buyer_id,omitempty"`
	ProviderID       uuid.UUID       `json:"provider_id,omitempty"`
	TransactionID    uuid.UUID       `json:"transaction_id,omitempty"`
	ProviderAmount   decimal.Decimal `json:"provider_amount"`
	ProviderBalance  decimal.Decimal `json:"provider_balance"`
	ProviderEarnings decimal.Decimal `json:"provider_earnings"`
	CompletedAt      time.Time       `json:"completed_at"`
}

// WithdrawResult итог вывода средств.
type WithdrawResult struct {
	Transaction *Transaction    `json:"transaction"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}
