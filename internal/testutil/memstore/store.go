// Package memstore хранилище в памяти для тестов сервисов, планировщика и роутера.
// Переходы решает entity, как и в EscrowLedger на PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

type setting struct {
	value string
	at    time.Time
}

// Store все таблицы под одним мьютексом.
type Store struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*models.Job
	transactions  map[uuid.UUID]*models.Transaction
	users         map[uuid.UUID]*models.User
	notifications []*models.Notification
	settings      map[string]setting
	attempts      map[uuid.UUID]time.Time
}

var (
	_ domainrepo.JobRepository          = (*Store)(nil)
	_ domainrepo.EscrowLedger           = (*Store)(nil)
	_ domainrepo.SettingsRepository     = (*Store)(nil)
	_ domainrepo.TransactionRepository  = transactionRepo{}
	_ domainrepo.UserRepository         = userRepo{}
	_ domainrepo.NotificationRepository = notificationRepo{}
)

type transactionRepo struct{ *Store }

func (r transactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

type userRepo struct{ *Store }

func (r userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.GetUser(ctx, id)
}

type notificationRepo struct{ *Store }

func (r notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	return r.CreateNotification(ctx, n)
}

// Transactions представление хранилища как журнала транзакций.
func (s *Store) Transactions() domainrepo.TransactionRepository { return transactionRepo{s} }

// Users представление хранилища как репозитория пользователей.
func (s *Store) Users() domainrepo.UserRepository { return userRepo{s} }

// NotificationRepo представление хранилища как репозитория уведомлений.
func (s *Store) NotificationRepo() domainrepo.NotificationRepository { return notificationRepo{s} }

func NewStore() *Store {
	return &Store{
		jobs:         make(map[uuid.UUID]*models.Job),
		transactions: make(map[uuid.UUID]*models.Transaction),
		users:        make(map[uuid.UUID]*models.User),
		settings:     make(map[string]setting),
		attempts:     make(map[uuid.UUID]time.Time),
	}
}

// AddUser добавляет пользователя с нулевыми агрегатами.
func (s *Store) AddUser(role string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: role}
	s.users[u.ID] = u
	cp := *u
	return &cp
}

// SetUserTotals перезаписывает агрегаты пользователя.
func (s *Store) SetUserTotals(id uuid.UUID, totals models.FinanceTotals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.AvailableBalance = totals.AvailableBalance
		u.TotalEarnings = totals.TotalEarnings
		u.TotalSpending = totals.TotalSpending
	}
}

// PutTransaction вставляет транзакцию напрямую.
func (s *Store) PutTransaction(t *models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transactions[t.ID] = &cp
}

// Notifications копия всех уведомлений.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	return out
}

func (s *Store) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperror.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListDueForRelease(ctx context.Context, dueBefore, retryBefore time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if !j.DueForRelease(dueBefore) {
			continue
		}
		if at, ok := s.attempts[j.ID]; ok && at.After(retryBefore) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		ai, iok := s.attempts[out[i].ID]
		ak, kok := s.attempts[out[k].ID]
		if iok != kok {
			return !iok
		}
		if iok && !ai.Equal(ak) {
			return ai.Before(ak)
		}
		return out[i].EscrowEndDate.Before(*out[k].EscrowEndDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkReleaseAttempt(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[jobID] = at
	return nil
}

// Transactions

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.PaymentID == paymentID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperror.ErrTransactionNotFound
}

func (s *Store) LatestForJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Transaction
	for _, t := range s.transactions {
		if t.JobID == nil || *t.JobID != jobID || t.Type != valueobject.TransactionTypeJobPayment {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, apperror.ErrTransactionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[id]; ok && t.Status == valueobject.TransactionStatusPendingCapture && t.ApprovedAt == nil {
		t.ApprovedAt = &at
		t.UpdatedAt = at
	}
	return nil
}

func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserTransaction
	for _, t := range s.transactions {
		if t.CustomerID != userID && (t.ProviderID == nil || *t.ProviderID != userID) {
			continue
		}
		item := models.UserTransaction{Transaction: *t}
		if t.JobID != nil {
			if j, ok := s.jobs[*t.JobID]; ok {
				title, category := j.Title, j.Category
				item.JobTitle, item.JobCategory = &title, &category
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Users

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Ledger

func (s *Store) Hire(ctx context.Context, in domainrepo.HireParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[in.JobID]
	if !ok {
		return apperror.ErrJobNotFound
	}
	if err := entity.CheckHire(j, entity.Actor{UserID: in.Transaction.CustomerID}, in.ProviderID); err != nil {
		return err
	}
	var open []*models.Transaction
	for _, t := range s.transactions {
		if t.JobID != nil && *t.JobID == in.JobID && t.Status.IsActive() {
			open = append(open, t)
		}
	}
	for _, t := range open {
		if err := entity.CheckRehire(*t); err != nil {
			return err
		}
	}
	for _, t := range open {
		t.Status = valueobject.TransactionStatusFailed
		t.UpdatedAt = in.Transaction.CreatedAt
	}
	entity.ApplyHire(j, in.ProviderID, in.Transaction.CreatedAt)
	cp := *in.Transaction
	s.transactions[cp.ID] = &cp
	return nil
}

func (s *Store) StartEscrow(ctx context.Context, in domainrepo.StartEscrowParams) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[in.TransactionID]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	j, ok := s.jobs[in.JobID]
	if !ok {
		return nil, apperror.ErrJobNotFound
	}
	if err := entity.CheckStartEscrow(j, t); err != nil {
		return nil, err
	}
	entity.ApplyStartEscrow(j, t, in.EscrowEndDate, in.Now)
	if u, ok := s.users[t.CustomerID]; ok {
		u.TotalSpending = u.TotalSpending.Add(t.Amount)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) Release(ctx context.Context, jobID uuid.UUID, now time.Time) (*models.ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &models.ReleaseResult{JobID: jobID, CompletedAt: now}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperror.ErrJobNotFound
	}
	if j.Status != valueobject.JobStatusInProgress || j.PaymentStatus != valueobject.PaymentStatusInEscrow {
		return res, nil
	}
	t, ok := s.transactions[*j.TransactionID]
	if !ok || t.Status != valueobject.TransactionStatusInEscrow {
		return nil, apperror.ErrTransactionNotFound
	}
	u, ok := s.users[*j.HiredProvider]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}

	entity.ApplyRelease(j, t, now)
	share := t.ProviderAmount()
	u.AvailableBalance = u.AvailableBalance.Add(share)
	u.TotalEarnings = u.TotalEarnings.Add(share)

	res.Eligible = true
	res.JobTitle = j.Title
	res.BuyerID = j.PostedBy
	res.ProviderID = u.ID
	res.TransactionID = t.ID
	res.ProviderAmount = share
	res.ProviderBalance = u.AvailableBalance
	res.ProviderEarnings = u.TotalEarnings
	return res, nil
}

func (s *Store) Cancel(ctx context.Context, jobID, actorID uuid.UUID, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperror.ErrJobNotFound
	}
	if err := entity.CheckCancel(j, entity.Actor{UserID: actorID}); err != nil {
		return nil, err
	}
	entity.ApplyCancel(j, now)
	for _, t := range s.transactions {
		if t.JobID != nil && *t.JobID == jobID && t.Status == valueobject.TransactionStatusPendingCapture {
			t.Status = valueobject.TransactionStatusFailed
			t.UpdatedAt = now
		}
	}
	cp := *j
	return &cp, nil
}

func (s *Store) DenyPayment(ctx context.Context, in domainrepo.DenyPaymentParams) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[in.TransactionID]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	var j *models.Job
	if t.JobID != nil {
		j = s.jobs[*t.JobID]
	}
	noop, err := entity.CheckDenyPayment(j, t)
	if err != nil {
		return nil, err
	}
	if noop {
		return nil, nil
	}
	if t.Status == valueobject.TransactionStatusInEscrow {
		if u, ok := s.users[t.CustomerID]; ok {
			u.TotalSpending = valueobject.NonNegative(u.TotalSpending.Sub(t.Amount))
		}
	}
	entity.ApplyDenyPayment(j, t, in.Now)
	if j == nil {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *Store) Withdraw(ctx context.Context, in domainrepo.WithdrawParams, payout domainrepo.PayoutFunc) (*models.WithdrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[in.UserID]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	if u.AvailableBalance.LessThan(in.Amount) {
		return nil, apperror.ErrInsufficientFunds
	}

	email := in.PayoutEmail
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
		CreatedAt:     in.Now,
		UpdatedAt:     in.Now,
	}
	if payout != nil {
		if err := payout(ctx, t); err != nil {
			return nil, err
		}
	}
	u.AvailableBalance = u.AvailableBalance.Sub(in.Amount)
	u.PayoutEmail = &email
	s.transactions[t.ID] = t
	cp := *t
	return &models.WithdrawResult{Transaction: &cp, NewBalance: u.AvailableBalance}, nil
}

func (s *Store) Reconcile(ctx context.Context, userID uuid.UUID) (*models.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}

	var totals models.LedgerTotals
	for _, t := range s.transactions {
		isProvider := t.ProviderID != nil && *t.ProviderID == userID
		switch {
		case isProvider && t.Type == valueobject.TransactionTypeJobPayment && t.Status == valueobject.TransactionStatusReleased:
			totals.ReleasedEarnings = totals.ReleasedEarnings.Add(t.ProviderAmount())
		case isProvider && t.Type == valueobject.TransactionTypeWithdrawal && t.Status == valueobject.TransactionStatusCompleted:
			totals.CompletedWithdrawals = totals.CompletedWithdrawals.Add(t.Amount)
		}
		if t.CustomerID == userID && t.Type == valueobject.TransactionTypeJobPayment {
			switch t.Status {
			case valueobject.TransactionStatusInEscrow, valueobject.TransactionStatusReleased, valueobject.TransactionStatusCompleted:
				totals.Spending = totals.Spending.Add(t.Amount)
			}
		}
	}

	rec := &models.Reconciliation{
		UserID: userID,
		Stored: models.FinanceTotals{
			AvailableBalance: u.AvailableBalance,
			TotalEarnings:    u.TotalEarnings,
			TotalSpending:    u.TotalSpending,
		},
		Actual: repository.ActualTotals(totals),
	}
	if repository.NeedsCorrection(rec.Stored, rec.Actual) {
		u.AvailableBalance = rec.Actual.AvailableBalance
		u.TotalEarnings = rec.Actual.TotalEarnings
		u.TotalSpending = rec.Actual.TotalSpending
		rec.Corrected = true
	}
	return rec, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, *s.notifications[i])
		}
	}
	if offset >= len(out) {
		return []models.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return apperror.ErrNotificationNotFound
}

// Settings

func (s *Store) Get(ctx context.Context, key string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", time.Time{}, common.ErrNotFound
	}
	return v.value, v.at, nil
}

func (s *Store) Set(ctx context.Context, key, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = setting{value: value, at: at}
	return nil
}
