package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
)

// Источник запуска выплаты
const (
	TriggerManual = "manual"
	TriggerTimer  = "timer"
	TriggerSweep  = "sweep"
)

// ReleaseEngine переводит удержанные средства исполнителю.
// Повторный вызов для того же заказа возвращает Eligible=false и ничего не меняет.
type ReleaseEngine struct {
	ledger   domainrepo.EscrowLedger
	notifier Notifier
	now      func() time.Time
}

// NewReleaseEngine создаёт движок выплат.
func NewReleaseEngine(ledger domainrepo.EscrowLedger, notifier Notifier) *ReleaseEngine {
	return &ReleaseEngine{ledger: ledger, notifier: notifier, now: time.Now}
}

// Release выплачивает исполнителю сумму сделки за вычетом комиссии.
func (e *ReleaseEngine) Release(ctx context.Context, jobID uuid.UUID, trigger string) (*models.ReleaseResult, error) {
	start := time.Now()
	log := logger.Log.WithFields(logrus.Fields{"job_id": jobID, "trigger": trigger})

	res, err := e.ledger.Release(ctx, jobID, e.now().UTC())
	if err != nil {
		metrics.RecordRelease(trigger, metrics.ReleaseFailed, start)
		// Операция откатилась целиком, но деньги участвуют: нужен след для ручной сверки.
		log.WithError(err).Error("выплата исполнителю не выполнена")
		return nil, fmt.Errorf("release engine: %w", err)
	}
	if !res.Eligible {
		metrics.RecordRelease(trigger, metrics.ReleaseNotEligible, start)
		log.Info("заказ не в удержании, выплата пропущена")
		return res, nil
	}

	metrics.RecordRelease(trigger, metrics.ReleaseReleased, start)
	metrics.RecordTransition("in_progress->completed")
	log.WithFields(logrus.Fields{
		"transaction_id": res.TransactionID,
		"provider_id":    res.ProviderID,
		"amount":         res.ProviderAmount.StringFixed(2),
		"balance":        res.ProviderBalance.StringFixed(2),
	}).Info("средства переведены исполнителю")

	related := models.RelatedToJob(res.JobID)
	e.notifier.Notify(ctx, res.BuyerID, models.NotificationJobCompleted,
		fmt.Sprintf("Заказ «%s» завершён, оплата переведена исполнителю", res.JobTitle), related)
	e.notifier.Notify(ctx, res.ProviderID, models.NotificationPayment,
		fmt.Sprintf("Оплата %s за заказ «%s» зачислена на баланс", res.ProviderAmount.StringFixed(2), res.JobTitle), related)

	return res, nil
}
