package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// Actor тот, кто выполняет действие над заказом.
type Actor struct {
	UserID uuid.UUID
	Role   string
	// AutoComplete выставляет только доверенный вызов по истечении срока удержания.
	AutoComplete bool
}

// SystemActor используется планировщиком автозавершения.
func SystemActor() Actor {
	return Actor{AutoComplete: true}
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// NewJob создаёт заказ в статусе active.
func NewJob(postedBy uuid.UUID, title, description, category, location string, price decimal.Decimal, scheduledFor *time.Time, now time.Time) (*models.Job, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название заказа обязательно")
	}
	if strings.TrimSpace(description) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание заказа обязательно")
	}
	amount, err := valueobject.NewAmount(price)
	if err != nil {
		return nil, err
	}
	if scheduledFor != nil && scheduledFor.Before(now) {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата выполнения не может быть в прошлом")
	}

	return &models.Job{
		ID:            uuid.New(),
		PostedBy:      postedBy,
		Title:         title,
		Description:   strings.TrimSpace(description),
		Category:      strings.TrimSpace(category),
		Location:      strings.TrimSpace(location),
		Price:         amount,
		ScheduledFor:  scheduledFor,
		Status:        valueobject.JobStatusActive,
		PaymentStatus: valueobject.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CheckHire проверяет, что покупатель может выбрать исполнителя.
func CheckHire(job *models.Job, actor Actor, providerID uuid.UUID) error {
	if job.Status != valueobject.JobStatusActive {
		return apperror.InvalidState("исполнителя можно выбрать только для активного заказа")
	}
	if !job.IsPostedBy(actor.UserID) {
		return apperror.ErrForbidden
	}
	if providerID == uuid.Nil || providerID == job.PostedBy {
		return apperror.New(apperror.ErrCodeValidation, "некорректный исполнитель")
	}
	return nil
}

// CheckRehire открытую оплату можно заменить, пока покупатель её не подтвердил.
func CheckRehire(open ...models.Transaction) error {
	for _, t := range open {
		if t.Type != valueobject.TransactionTypeJobPayment {
			continue
		}
		if t.Status == valueobject.TransactionStatusInEscrow ||
			(t.Status == valueobject.TransactionStatusPendingCapture && t.ApprovedAt != nil) {
			return apperror.InvalidState("по заказу уже есть подтверждённая оплата")
		}
	}
	return nil
}

// ApplyHire назначает исполнителя, заказ остаётся активным до списания.
func ApplyHire(job *models.Job, providerID uuid.UUID, now time.Time) {
	job.HiredProvider = &providerID
	job.UpdatedAt = now
}

// NewJobPayment создаёт транзакцию оплаты заказа в статусе pending_capture.
func NewJobPayment(job *models.Job, charge valueobject.Charge, paymentID, method string, now time.Time) *models.Transaction {
	jobID := job.ID
	desc := "Оплата заказа: " + job.Title
	return &models.Transaction{
		ID:            uuid.New(),
		JobID:         &jobID,
		CustomerID:    job.PostedBy,
		PaymentID:     paymentID,
		Amount:        charge.Amount,
		ServiceFee:    charge.ServiceFee,
		Status:        valueobject.TransactionStatusPendingCapture,
		Type:          valueobject.TransactionTypeJobPayment,
		PaymentMethod: method,
		Description:   &desc,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CheckStartEscrow проверяет переход active -> in_progress после списания.
func CheckStartEscrow(job *models.Job, tx *models.Transaction) error {
	switch tx.Status {
	case valueobject.TransactionStatusInEscrow, valueobject.TransactionStatusReleased:
		return apperror.ErrDuplicateEscrow
	case valueobject.TransactionStatusPendingCapture:
	default:
		return apperror.InvalidState("транзакция не ожидает списания")
	}
	if tx.JobID == nil || *tx.JobID != job.ID {
		return apperror.InvalidState("транзакция относится к другому заказу")
	}
	if job.Status != valueobject.JobStatusActive {
		return apperror.InvalidState("удержание можно начать только для активного заказа")
	}
	if job.HiredProvider == nil {
		return apperror.InvalidState("у заказа нет исполнителя")
	}
	return nil
}

// ApplyStartEscrow переводит заказ в работу и средства в удержание.
func ApplyStartEscrow(job *models.Job, tx *models.Transaction, escrowEnd, now time.Time) {
	txID := tx.ID
	job.Status = valueobject.JobStatusInProgress
	job.PaymentStatus = valueobject.PaymentStatusInEscrow
	job.TransactionID = &txID
	job.EscrowEndDate = &escrowEnd
	job.UpdatedAt = now

	tx.Status = valueobject.TransactionStatusInEscrow
	tx.UpdatedAt = now
}

// CheckComplete проверяет право завершить заказ.
// Покупатель и администратор ждут окончания срока удержания, доверенный вызов нет.
func CheckComplete(job *models.Job, actor Actor, now time.Time) error {
	if job.Status != valueobject.JobStatusInProgress {
		return apperror.InvalidState("завершить можно только заказ в работе")
	}
	if actor.AutoComplete {
		return nil
	}
	if !job.IsPostedBy(actor.UserID) && !actor.IsAdmin() {
		return apperror.ErrForbidden
	}
	if secs := job.SecondsUntilRelease(now); secs > 0 {
		return apperror.EscrowNotElapsed(secs)
	}
	return nil
}

// ApplyRelease завершает заказ и отмечает выплату исполнителю.
func ApplyRelease(job *models.Job, tx *models.Transaction, now time.Time) {
	job.Status = valueobject.JobStatusCompleted
	job.PaymentStatus = valueobject.PaymentStatusReleased
	job.EscrowEndDate = nil
	job.CompletedAt = &now
	job.UpdatedAt = now

	provider := *job.HiredProvider
	tx.Status = valueobject.TransactionStatusReleased
	tx.ProviderID = &provider
	tx.UpdatedAt = now
}

// CheckCancel отмена доступна покупателю, пока заказ активен.
func CheckCancel(job *models.Job, actor Actor) error {
	if job.Status != valueobject.JobStatusActive {
		return apperror.InvalidState("отменить можно только активный заказ")
	}
	if !job.IsPostedBy(actor.UserID) {
		return apperror.ErrForbidden
	}
	return nil
}

// ApplyCancel отменяет заказ.
func ApplyCancel(job *models.Job, now time.Time) {
	job.Status = valueobject.JobStatusCancelled
	job.UpdatedAt = now
}

// CheckDenyPayment проверяет отказ в списании.
// Повторный отказ по уже проваленной транзакции ничего не меняет: noop=true.
func CheckDenyPayment(job *models.Job, tx *models.Transaction) (noop bool, err error) {
	if tx.Status == valueobject.TransactionStatusFailed {
		return true, nil
	}
	if !tx.Status.CanTransitionTo(valueobject.TransactionStatusFailed) {
		return false, apperror.InvalidState("транзакцию уже нельзя отклонить")
	}
	if job == nil {
		return false, nil
	}
	if job.Status != valueobject.JobStatusActive && job.Status != valueobject.JobStatusInProgress {
		return false, apperror.InvalidState("заказ уже закрыт")
	}
	if job.TransactionID != nil && *job.TransactionID != tx.ID {
		return false, apperror.InvalidState("заказ оплачен другой транзакцией")
	}
	return false, nil
}

// ApplyDenyPayment возвращает заказ в поиск исполнителя.
func ApplyDenyPayment(job *models.Job, tx *models.Transaction, now time.Time) {
	tx.Status = valueobject.TransactionStatusFailed
	tx.UpdatedAt = now

	if job == nil {
		return
	}
	job.Status = valueobject.JobStatusActive
	job.PaymentStatus = valueobject.PaymentStatusPending
	job.HiredProvider = nil
	job.TransactionID = nil
	job.EscrowEndDate = nil
	job.UpdatedAt = now
}
