package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Роли пользователей
const (
	RoleBuyer    = "buyer"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

// User финансовая часть профиля пользователя.
type User struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Email            string          `db:"email" json:"email"`
	Name             string          `db:"name" json:"name"`
	Role             string          `db:"role" json:"role"`
	PayoutEmail      *string         `db:"payout_email" json:"payout_email,omitempty"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	TotalEarnings    decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	TotalSpending    decimal.Decimal `db:"total_spending" json:"total_spending"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// LedgerTotals суммы, пересчитанные по журналу транзакций.
type LedgerTotals struct {
	ReleasedEarnings     decimal.Decimal `db:"released_earnings"`
	CompletedWithdrawals decimal.Decimal `db:"completed_withdrawals"`
	Spending             decimal.Decimal `db:"spending"`
}

// FinanceTotals значения агрегатов пользователя.
type FinanceTotals struct {
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	TotalSpending    decimal.Decimal `json:"total_spending"`
}

// Reconciliation результат сверки хранимых агрегатов с журналом.
type Reconciliation struct {
	UserID    uuid.UUID     `json:"user_id"`
	Stored    FinanceTotals `json:"stored"`
	Actual    FinanceTotals `json:"actual"`
	Corrected bool          `json:"corrected"`
}
