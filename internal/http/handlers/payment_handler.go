package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/servicedesk-backend/internal/dto"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/http/handlers/common"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
	"github.com/ignatzorin/servicedesk-backend/internal/validation"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	escrow      *service.EscrowService
	webhooks    *service.WebhookService
	withdrawals *service.WithdrawalService
}

func NewPaymentHandler(escrow *service.EscrowService, webhooks *service.WebhookService, withdrawals *service.WithdrawalService) *PaymentHandler {
	return &PaymentHandler{escrow: escrow, webhooks: webhooks, withdrawals: withdrawals}
}

// Webhook POST /payments/webhook
// 2xx означает, что событие принято и повторять его не нужно.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "слишком большое тело запроса"})
			return
		}
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	ev, err := h.webhooks.Handle(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Received: true, EventID: ev.ID, Kind: string(ev.Kind)})
}

// ManualTrigger POST /payments/webhook/manual-trigger
func (h *PaymentHandler) ManualTrigger(c *gin.Context) {
	var req dto.ManualTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	jobID, err := common.ParseUUID(req.JobID, "jobId")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	ev, err := h.webhooks.ManualTrigger(c.Request.Context(), jobID, gateway.EventKind(req.Event))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Received: true, EventID: ev.ID, Kind: string(ev.Kind)})
}

// Capture POST /payments/capture
// Покупатель вернулся со страницы PayPal, оплата списывается сразу, не дожидаясь вебхука.
func (h *PaymentHandler) Capture(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите идентификатор заказа PayPal")
		return
	}

	res, err := h.escrow.CaptureApproved(c.Request.Context(), actor, req.OrderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Withdraw POST /payments/withdraw
func (h *PaymentHandler) Withdraw(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите сумму и корректный PayPal email")
		return
	}
	if err := validation.ValidateAmount("сумма вывода", req.Amount); err != nil {
		common.RespondAppError(c, err)
		return
	}
	if err := validation.ValidatePayoutEmail(req.PaypalEmail); err != nil {
		common.RespondAppError(c, err)
		return
	}

	res, err := h.withdrawals.Withdraw(c.Request.Context(), userID, req.Amount, req.PaypalEmail)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "выплата отправлена",
		"transaction": res.Transaction,
		"newBalance":  res.NewBalance,
	})
}
