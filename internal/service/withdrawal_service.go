package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

var validate = validator.New()

// WithdrawalService вывод доступного баланса на PayPal.
type WithdrawalService struct {
	ledger   domainrepo.EscrowLedger
	gateway  PaymentGateway
	notifier Notifier
	now      func() time.Time
}

// NewWithdrawalService создаёт сервис вывода средств.
func NewWithdrawalService(ledger domainrepo.EscrowLedger, gw PaymentGateway, notifier Notifier) *WithdrawalService {
	return &WithdrawalService{
		ledger:   ledger,
		gateway:  gw,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Withdraw списывает сумму с баланса и отправляет выплату.
// Если шлюз отказал, списание откатывается.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, payoutEmail string) (res *models.WithdrawResult, err error) {
	defer func() { metrics.RecordWithdrawal(err) }()

	amount, err = valueobject.NewAmount(amount)
	if err != nil {
		return nil, err
	}
	payoutEmail = strings.TrimSpace(payoutEmail)
	if err := validate.Var(payoutEmail, "required,email"); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "укажите корректный PayPal email")
	}

	now := s.now()
	params := domainrepo.WithdrawParams{
		UserID:      userID,
		Amount:      amount,
		PayoutEmail: payoutEmail,
		PaymentID:   "WD-" + uuid.NewString(),
		Now:         now,
	}

	res, err = s.ledger.Withdraw(ctx, params, func(ctx context.Context, tx *models.Transaction) error {
		_, perr := s.gateway.Payout(ctx, gateway.PayoutRequest{
			BatchID:  tx.PaymentID,
			Receiver: payoutEmail,
			Amount:   tx.Amount,
			Note:     "Вывод средств с баланса",
		})
		if perr != nil {
			return apperror.Gateway(perr, "платёжный шлюз не принял выплату")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": res.Transaction.ID,
		"amount":         amount.StringFixed(2),
		"balance":        res.NewBalance.StringFixed(2),
	}).Info("средства выведены")

	s.notifier.Notify(ctx, userID, models.NotificationWithdrawal,
		fmt.Sprintf("Выплата %s отправлена на %s", amount.StringFixed(2), payoutEmail),
		models.RelatedToTransaction(res.Transaction.ID))
	return res, nil
}
