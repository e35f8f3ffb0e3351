package valueobject

import "github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"

type JobStatus string

const (
	JobStatusActive     JobStatus = "active"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// jobTransitions: in_progress -> active только при отказе в списании.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusActive:     {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusCompleted, JobStatusActive},
	JobStatusCompleted:  {},
	JobStatusCancelled:  {},
}

func (s JobStatus) IsValid() bool {
	_, ok := jobTransitions[s]
	return ok
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, status := range jobTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

func NewJobStatus(status string) (JobStatus, error) {
	s := JobStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusInEscrow PaymentStatus = "in_escrow"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusFailed   PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusInEscrow, PaymentStatusReleased, PaymentStatusFailed:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPendingCapture TransactionStatus = "pending_capture"
	TransactionStatusInEscrow       TransactionStatus = "in_escrow"
	TransactionStatusReleased       TransactionStatus = "released"
	TransactionStatusFailed         TransactionStatus = "failed"
	// completed используется только выводом средств
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Статусы транзакции двигаются только вперёд.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPendingCapture: {TransactionStatusInEscrow, TransactionStatusFailed},
	TransactionStatusInEscrow:       {TransactionStatusReleased, TransactionStatusFailed},
	TransactionStatusReleased:       {},
	TransactionStatusFailed:         {},
	TransactionStatusCompleted:      {},
}

func (s TransactionStatus) IsValid() bool {
	_, ok := transactionTransitions[s]
	return ok
}

func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, status := range transactionTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

// IsActive: транзакция ещё держит заказ (ожидает списания или в удержании).
func (s TransactionStatus) IsActive() bool {
	return s == TransactionStatusPendingCapture || s == TransactionStatusInEscrow
}

type TransactionType string

const (
	TransactionTypeJobPayment TransactionType = "job_payment"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

func (t TransactionType) IsValid() bool {
	return t == TransactionTypeJobPayment || t == TransactionTypeWithdrawal
}
