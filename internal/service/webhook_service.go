package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

const defaultVerifyTimeout = 10 * time.Second

// WebhookService проверяет и применяет события платёжного шлюза.
// Шлюз доставляет события минимум один раз, поэтому повтор любого события безопасен.
type WebhookService struct {
	gateway       PaymentGateway
	escrow        *EscrowService
	verifyTimeout time.Duration
	allowManual   bool
}

// NewWebhookService создаёт обработчик вебхуков. allowManual включает ручной запуск событий.
func NewWebhookService(gw PaymentGateway, escrow *EscrowService, verifyTimeout time.Duration, allowManual bool) *WebhookService {
	if verifyTimeout <= 0 {
		verifyTimeout = defaultVerifyTimeout
	}
	return &WebhookService{
		gateway:       gw,
		escrow:        escrow,
		verifyTimeout: verifyTimeout,
		allowManual:   allowManual,
	}
}

// Handle проверяет подпись и применяет событие. До проверки подписи состояние не читается.
func (s *WebhookService) Handle(ctx context.Context, headers http.Header, body []byte) (*gateway.Event, error) {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	ok, err := s.gateway.VerifyWebhookSignature(vctx, headers, body)
	cancel()
	if err != nil {
		logger.Log.WithError(err).Warn("не удалось проверить подпись вебхука")
		return nil, apperror.Gateway(err, "не удалось проверить подпись вебхука")
	}
	if !ok {
		logger.Log.WithField("transmission_id", headers.Get(gateway.HeaderTransmissionID)).Warn("вебхук с неверной подписью отклонён")
		return nil, apperror.ErrInvalidSignature
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	return ev, s.dispatch(ctx, ev)
}

// ManualTrigger применяет событие к последней оплате заказа без шлюза. Только для разработки.
func (s *WebhookService) ManualTrigger(ctx context.Context, jobID uuid.UUID, kind gateway.EventKind) (*gateway.Event, error) {
	if !s.allowManual {
		return nil, apperror.ErrForbidden
	}
	if kind == "" {
		kind = gateway.EventCaptureCompleted
	}

	tx, err := s.escrow.transactions.LatestForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	body, err := gateway.BuildEvent(kind, tx.PaymentID)
	if err != nil {
		return nil, err
	}
	ev, err := gateway.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	return ev, s.dispatch(ctx, ev)
}

func (s *WebhookService) dispatch(ctx context.Context, ev *gateway.Event) error {
	log := logger.Log.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"payment_id": ev.PaymentID,
	})

	var err error
	switch ev.Kind {
	case gateway.EventOrderApproved:
		_, err = s.escrow.CaptureApproved(ctx, entity.SystemActor(), ev.PaymentID)
	case gateway.EventCaptureCompleted:
		_, err = s.escrow.StartEscrowForPayment(ctx, ev.PaymentID)
		if IsAlreadyApplied(err) {
			log.Info("списание уже применено, повтор события пропущен")
			err = nil
		}
	case gateway.EventCaptureDenied:
		_, err = s.escrow.DenyPaymentForPayment(ctx, ev.PaymentID)
	default:
		log.Debug("событие шлюза не обрабатывается")
	}

	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrTransactionNotFound):
		log.Warn("транзакция для события не найдена")
		err = nil
	case apperror.IsInvalidState(err):
		// Повторная доставка не поможет, расхождение разбирается вручную.
		log.WithError(err).Error("событие шлюза противоречит состоянию заказа")
		err = nil
	default:
		log.WithError(err).Error("не удалось применить событие шлюза")
	}

	metrics.RecordWebhook(string(ev.Kind), err)
	return err
}
