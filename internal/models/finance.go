package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Вид операции в истории пользователя
const (
	ActivityJobEarning = "job_earning"
	ActivityJobPayment = "job_payment"
	ActivityWithdrawal = "withdrawal"
)

// ActivityItem операция в финансовой сводке.
type ActivityItem struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	JobID       *uuid.UUID      `json:"job_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CategoryTotal траты покупателя по категории.
type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// MonthlyTotal заработок исполнителя за месяц.
type MonthlyTotal struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// FinancialSummary ответ GET /users/financial-dashboard.
type FinancialSummary struct {
	UserID             uuid.UUID       `json:"user_id"`
	AvailableBalance   decimal.Decimal `json:"available_balance"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	TotalSpending      decimal.Decimal `json:"total_spending"`
	PayoutEmail        *string         `json:"payout_email,omitempty"`
	RecentTransactions []ActivityItem  `json:"recent_transactions"`
	SpendingByCategory []CategoryTotal `json:"spending_by_category"`
	EarningsTrend      []MonthlyTotal  `json:"earnings_trend"`
}

// PlatformSettings настройки, которые меняет оператор.
type PlatformSettings struct {
	EscrowPeriodMinutes int64     `json:"escrow_period_minutes"`
	UpdatedAt           time.Time `json:"updated_at"`
}
