package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// PaymentGateway то, что сервисам нужно от платёжного шлюза.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*gateway.Capture, error)
	Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
}

const defaultGatewayTimeout = 10 * time.Second

// CompletionScheduler планирует автоматическую выплату к дате окончания удержания.
type CompletionScheduler interface {
	Arm(ctx context.Context, jobID uuid.UUID, due time.Time)
}

// EscrowPeriodSource отдаёт период удержания на момент начала сделки.
type EscrowPeriodSource interface {
	EscrowPeriod(ctx context.Context) (time.Duration, error)
}

// EscrowDeps зависимости EscrowService.
type EscrowDeps struct {
	Jobs         domainrepo.JobRepository
	Transactions domainrepo.TransactionRepository
	Ledger       domainrepo.EscrowLedger
	Gateway      PaymentGateway
	Periods      EscrowPeriodSource
	Releaser     *ReleaseEngine
	Scheduler    CompletionScheduler
	Notifier     Notifier
	FeeRate      decimal.Decimal
	// GatewayTimeout ограничивает вызовы шлюза из сервиса, по умолчанию 10s.
	GatewayTimeout time.Duration
}

// EscrowService жизненный цикл заказа: найм, удержание, завершение, отмена.
type EscrowService struct {
	jobs         domainrepo.JobRepository
	transactions domainrepo.TransactionRepository
	ledger       domainrepo.EscrowLedger
	gateway      PaymentGateway
	periods      EscrowPeriodSource
	releaser     *ReleaseEngine
	scheduler    CompletionScheduler
	notifier     Notifier
	feeRate      decimal.Decimal
	gwTimeout    time.Duration
	now          func() time.Time
}

// NewEscrowService создаёт сервис сделок.
func NewEscrowService(deps EscrowDeps) *EscrowService {
	rate := deps.FeeRate
	if rate.IsZero() {
		rate = valueobject.DefaultFeeRate
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &EscrowService{
		jobs:         deps.Jobs,
		transactions: deps.Transactions,
		ledger:       deps.Ledger,
		gateway:      deps.Gateway,
		periods:      deps.Periods,
		releaser:     deps.Releaser,
		scheduler:    deps.Scheduler,
		notifier:     deps.Notifier,
		feeRate:      rate,
		gwTimeout:    timeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateJobParams данные нового заказа.
type CreateJobParams struct {
	Title        string
	Description  string
	Category     string
	Location     string
	Price        decimal.Decimal
	ScheduledFor *time.Time
}

// HireResult открытая оплата и ссылка для её подтверждения покупателем.
type HireResult struct {
	Transaction *models.Transaction `json:"transaction"`
	ApproveURL  string              `json:"approve_url"`
}

// CreateJob публикует заказ.
func (s *EscrowService) CreateJob(ctx context.Context, actor entity.Actor, in CreateJobParams) (*models.Job, error) {
	job, err := entity.NewJob(actor.UserID, in.Title, in.Description, in.Category, in.Location, in.Price, in.ScheduledFor, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob возвращает заказ с остатком периода удержания.
func (s *EscrowService) GetJob(ctx context.Context, id uuid.UUID) (*models.JobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &models.JobView{Job: *job}
	if job.Status == valueobject.JobStatusInProgress {
		secs := job.SecondsUntilRelease(s.now())
		view.SecondsUntilRelease = &secs
	}
	return view, nil
}

// Hire выбирает исполнителя и открывает оплату у шлюза.
// Комиссия фиксируется здесь и больше не пересчитывается.
func (s *EscrowService) Hire(ctx context.Context, actor entity.Actor, jobID, providerID uuid.UUID, method string) (*HireResult, error) {
	if method == "" {
		method = models.PaymentMethodPayPal
	}
	if method != models.PaymentMethodPayPal && method != models.PaymentMethodCard {
		return nil, apperror.New(apperror.ErrCodeValidation, "неподдерживаемый способ оплаты")
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := entity.CheckHire(job, actor, providerID); err != nil {
		return nil, err
	}

	// Не создаём заказ у шлюза, если покупатель уже подтвердил прошлую оплату.
	// Окончательно это проверяет Hire в хранилище.
	if latest, err := s.transactions.LatestForJob(ctx, job.ID); err == nil {
		if err := entity.CheckRehire(*latest); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, apperror.ErrTransactionNotFound) {
		return nil, err
	}

	charge, err := valueobject.NewCharge(job.Price, s.feeRate)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	order, err := s.gateway.CreateOrder(gctx, gateway.OrderRequest{
		ReferenceID: job.ID.String(),
		Description: job.Title,
		Amount:      charge.Amount,
	})
	cancel()
	if err != nil {
		return nil, apperror.Gateway(err, "не удалось создать платёж")
	}

	tx := entity.NewJobPayment(job, charge, order.ID, method, s.now())
	if err := s.ledger.Hire(ctx, domainrepo.HireParams{JobID: job.ID, ProviderID: providerID, Transaction: tx}); err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"transaction_id": tx.ID,
		"provider_id":    providerID,
		"amount":         tx.Amount.StringFixed(2),
		"payment_id":     tx.PaymentID,
	}).Info("исполнитель выбран, ожидается оплата")

	return &HireResult{Transaction: tx, ApproveURL: order.ApproveURL}, nil
}

// StartEscrow переводит оплаченный заказ в работу и взводит автозавершение.
func (s *EscrowService) StartEscrow(ctx context.Context, jobID, transactionID uuid.UUID) (*models.Job, error) {
	period, err := s.periods.EscrowPeriod(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job, err := s.ledger.StartEscrow(ctx, domainrepo.StartEscrowParams{
		JobID:         jobID,
		TransactionID: transactionID,
		EscrowEndDate: now.Add(period),
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("active->in_progress")
	logger.Log.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"transaction_id":  transactionID,
		"escrow_end_date": job.EscrowEndDate,
	}).Info("средства удерживаются")

	related := models.RelatedToJob(job.ID)
	s.notifier.Notify(ctx, job.PostedBy, models.NotificationPayment,
		fmt.Sprintf("Оплата заказа «%s» прошла, исполнитель приступает к работе", job.Title), related)
	if job.HiredProvider != nil {
		s.notifier.Notify(ctx, *job.HiredProvider, models.NotificationJobAssigned,
			fmt.Sprintf("Вас выбрали исполнителем заказа «%s»", job.Title), related)
	}

	if s.scheduler != nil && job.EscrowEndDate != nil {
		s.scheduler.Arm(ctx, job.ID, *job.EscrowEndDate)
	}
	return job, nil
}

// StartEscrowForPayment начинает удержание по идентификатору платежа у шлюза.
func (s *EscrowService) StartEscrowForPayment(ctx context.Context, paymentID string) (*models.Job, error) {
	tx, err := s.transactions.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if tx.JobID == nil {
		return nil, apperror.InvalidState("платёж не относится к заказу")
	}
	return s.StartEscrow(ctx, *tx.JobID, tx.ID)
}

// MarkComplete завершает заказ и выплачивает исполнителю.
func (s *EscrowService) MarkComplete(ctx context.Context, actor entity.Actor, jobID uuid.UUID) (*models.ReleaseResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := entity.CheckComplete(job, actor, s.now()); err != nil {
		return nil, err
	}

	trigger := TriggerManual
	if actor.AutoComplete {
		trigger = TriggerTimer
	}
	res, err := s.releaser.Release(ctx, jobID, trigger)
	if err != nil {
		return nil, err
	}
	if !res.Eligible {
		return nil, apperror.InvalidState("заказ уже завершён")
	}
	return res, nil
}

// Cancel отменяет активный заказ и закрывает неподтверждённую оплату.
func (s *EscrowService) Cancel(ctx context.Context, actor entity.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := entity.CheckCancel(job, actor); err != nil {
		return nil, err
	}

	cancelled, err := s.ledger.Cancel(ctx, jobID, actor.UserID, s.now())
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition("active->cancelled")

	if job.HiredProvider != nil {
		s.notifier.Notify(ctx, *job.HiredProvider, models.NotificationJobCancelled,
			fmt.Sprintf("Заказ «%s» отменён покупателем", job.Title), models.RelatedToJob(job.ID))
	}
	return cancelled, nil
}

// DenyPayment обрабатывает отказ шлюза в списании.
// Заказ возвращается в поиск исполнителя, повторный отказ ничего не меняет.
func (s *EscrowService) DenyPayment(ctx context.Context, transactionID uuid.UUID) (*models.Job, error) {
	job, err := s.ledger.DenyPayment(ctx, domainrepo.DenyPaymentParams{TransactionID: transactionID, Now: s.now()})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	metrics.RecordTransition("payment_denied")
	logger.Log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"transaction_id": transactionID,
	}).Warn("шлюз отклонил списание, заказ снова открыт")

	s.notifier.Notify(ctx, job.PostedBy, models.NotificationPaymentFailed,
		fmt.Sprintf("Оплата заказа «%s» не прошла, попробуйте ещё раз", job.Title), models.RelatedToJob(job.ID))
	return job, nil
}

// DenyPaymentForPayment отказ по идентификатору платежа у шлюза.
func (s *EscrowService) DenyPaymentForPayment(ctx context.Context, paymentID string) (*models.Job, error) {
	tx, err := s.transactions.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.DenyPayment(ctx, tx.ID)
}

// CaptureResult итог списания одобренной оплаты.
// Status pending_capture значит, что шлюз ещё проводит списание и заказ начнёт событие CAPTURE_COMPLETED.
type CaptureResult struct {
	TransactionID uuid.UUID                     `json:"transaction_id"`
	PaymentID     string                        `json:"payment_id"`
	Status        valueobject.TransactionStatus `json:"status"`
	Job           *models.Job                   `json:"job,omitempty"`
}

// CaptureApproved списывает оплату, которую покупатель одобрил у шлюза, и начинает удержание.
// Повтор по тому же paymentID возвращает текущее состояние, шлюз получает тот же PayPal-Request-Id.
func (s *EscrowService) CaptureApproved(ctx context.Context, actor entity.Actor, paymentID string) (*CaptureResult, error) {
	tx, err := s.transactions.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.AutoComplete && tx.CustomerID != actor.UserID {
		return nil, apperror.ErrForbidden
	}
	if tx.JobID == nil {
		return nil, apperror.InvalidState("платёж не относится к заказу")
	}
	result := &CaptureResult{TransactionID: tx.ID, PaymentID: tx.PaymentID, Status: tx.Status}

	switch tx.Status {
	case valueobject.TransactionStatusPendingCapture:
	case valueobject.TransactionStatusInEscrow, valueobject.TransactionStatusReleased:
		return result, nil
	default:
		return nil, apperror.InvalidState("оплата уже закрыта")
	}

	if tx.ApprovedAt == nil {
		if err := s.transactions.MarkApproved(ctx, tx.ID, s.now()); err != nil {
			return nil, err
		}
	}

	log := logger.Log.WithFields(logrus.Fields{
		"job_id":         *tx.JobID,
		"transaction_id": tx.ID,
		"payment_id":     paymentID,
	})

	gctx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	capture, err := s.gateway.CaptureOrder(gctx, paymentID)
	cancel()
	switch {
	case errors.Is(err, gateway.ErrAlreadyCaptured):
		log.Info("заказ у шлюза уже списан")
	case err != nil:
		return nil, apperror.Gateway(err, "не удалось списать оплату")
	case capture.Declined():
		job, err := s.DenyPayment(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		result.Status = valueobject.TransactionStatusFailed
		result.Job = job
		return result, nil
	case !capture.Completed():
		log.WithField("capture_status", capture.CaptureStatus).Info("списание в обработке, ждём событие шлюза")
		return result, nil
	}

	job, err := s.StartEscrow(ctx, *tx.JobID, tx.ID)
	if IsAlreadyApplied(err) {
		result.Status = valueobject.TransactionStatusInEscrow
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Status = valueobject.TransactionStatusInEscrow
	result.Job = job
	return result, nil
}

// IsAlreadyApplied повторная доставка события, которое уже применено.
func IsAlreadyApplied(err error) bool {
	return errors.Is(err, apperror.ErrDuplicateEscrow)
}
