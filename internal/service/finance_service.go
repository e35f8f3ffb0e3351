package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
)

const (
	summaryWindow   = 50
	summaryRecent   = 20
	uncategorized   = "other"
	monthLabelStyle = "Jan 2006"
)

// FinanceService сверка агрегатов и финансовая сводка пользователя.
type FinanceService struct {
	users        domainrepo.UserRepository
	transactions domainrepo.TransactionRepository
	ledger       domainrepo.EscrowLedger
}

// NewFinanceService создаёт сервис финансовой сводки.
func NewFinanceService(users domainrepo.UserRepository, transactions domainrepo.TransactionRepository, ledger domainrepo.EscrowLedger) *FinanceService {
	return &FinanceService{users: users, transactions: transactions, ledger: ledger}
}

// Reconcile пересчитывает баланс, заработок и траты по журналу транзакций.
func (s *FinanceService) Reconcile(ctx context.Context, userID uuid.UUID) (*models.Reconciliation, error) {
	rec, err := s.ledger.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Corrected {
		logger.Log.WithFields(logrus.Fields{
			"user_id":         userID,
			"stored_balance":  rec.Stored.AvailableBalance.StringFixed(2),
			"actual_balance":  rec.Actual.AvailableBalance.StringFixed(2),
			"stored_earnings": rec.Stored.TotalEarnings.StringFixed(2),
			"actual_earnings": rec.Actual.TotalEarnings.StringFixed(2),
			"stored_spending": rec.Stored.TotalSpending.StringFixed(2),
			"actual_spending": rec.Actual.TotalSpending.StringFixed(2),
		}).Warn("агрегаты пользователя исправлены по журналу")
	}
	return rec, nil
}

// Summary сводка для финансовой панели пользователя.
func (s *FinanceService) Summary(ctx context.Context, userID uuid.UUID) (*models.FinancialSummary, error) {
	rec, err := s.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.transactions.ListForUser(ctx, userID, summaryWindow)
	if err != nil {
		return nil, err
	}

	return &models.FinancialSummary{
		UserID:             userID,
		AvailableBalance:   valueobject.RoundCents(valueobject.NonNegative(rec.Actual.AvailableBalance)),
		TotalEarnings:      valueobject.RoundCents(rec.Actual.TotalEarnings),
		TotalSpending:      valueobject.RoundCents(rec.Actual.TotalSpending),
		PayoutEmail:        user.PayoutEmail,
		RecentTransactions: recentActivity(userID, txs),
		SpendingByCategory: spendingByCategory(userID, txs),
		EarningsTrend:      earningsTrend(userID, txs),
	}, nil
}

// recentActivity операции со знаком с точки зрения пользователя.
func recentActivity(userID uuid.UUID, txs []models.UserTransaction) []models.ActivityItem {
	items := make([]models.ActivityItem, 0, summaryRecent)
	for _, t := range txs {
		if len(items) == summaryRecent {
			break
		}
		item := models.ActivityItem{
			ID:        t.ID,
			Status:    string(t.Status),
			JobID:     t.JobID,
			CreatedAt: t.CreatedAt,
		}
		switch {
		case t.Type == valueobject.TransactionTypeWithdrawal:
			item.Kind = models.ActivityWithdrawal
			item.Amount = t.Amount.Neg()
			item.Description = "Вывод средств"
		case isEarning(userID, &t.Transaction):
			item.Kind = models.ActivityJobEarning
			item.Amount = t.ProviderAmount()
			item.Description = "Оплата за заказ" + titleSuffix(t.JobTitle)
		case t.CustomerID == userID:
			item.Kind = models.ActivityJobPayment
			item.Amount = t.Amount.Neg()
			item.Description = "Оплата заказа" + titleSuffix(t.JobTitle)
		default:
			continue
		}
		items = append(items, item)
	}
	return items
}

func spendingByCategory(userID uuid.UUID, txs []models.UserTransaction) []models.CategoryTotal {
	totals := make(map[string]decimal.Decimal)
	for _, t := range txs {
		if !isSpending(userID, &t.Transaction) {
			continue
		}
		category := uncategorized
		if t.JobCategory != nil && *t.JobCategory != "" {
			category = *t.JobCategory
		}
		totals[category] = totals[category].Add(t.Amount)
	}

	out := make([]models.CategoryTotal, 0, len(totals))
	for category, amount := range totals {
		out = append(out, models.CategoryTotal{Category: category, Amount: valueobject.RoundCents(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// earningsTrend заработок по месяцам выплаты в хронологическом порядке.
func earningsTrend(userID uuid.UUID, txs []models.UserTransaction) []models.MonthlyTotal {
	type bucket struct {
		month  time.Time
		amount decimal.Decimal
	}
	buckets := make(map[time.Time]*bucket)
	for _, t := range txs {
		if !isEarning(userID, &t.Transaction) {
			continue
		}
		at := t.UpdatedAt.UTC()
		month := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		b, ok := buckets[month]
		if !ok {
			b = &bucket{month: month}
			buckets[month] = b
		}
		b.amount = b.amount.Add(t.ProviderAmount())
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].month.Before(ordered[j].month) })

	out := make([]models.MonthlyTotal, 0, len(ordered))
	for _, b := range ordered {
		out = append(out, models.MonthlyTotal{Month: b.month.Format(monthLabelStyle), Amount: valueobject.RoundCents(b.amount)})
	}
	return out
}

func isEarning(userID uuid.UUID, t *models.Transaction) bool {
	return t.Type == valueobject.TransactionTypeJobPayment &&
		t.Status == valueobject.TransactionStatusReleased &&
		t.ProviderID != nil && *t.ProviderID == userID
}

func isSpending(userID uuid.UUID, t *models.Transaction) bool {
	if t.Type != valueobject.TransactionTypeJobPayment || t.CustomerID != userID {
		return false
	}
	switch t.Status {
	case valueobject.TransactionStatusInEscrow, valueobject.TransactionStatusReleased, valueobject.TransactionStatusCompleted:
		return true
	}
	return false
}

func titleSuffix(title *string) string {
	if title == nil || *title == "" {
		return ""
	}
	return ": " + *title
}
