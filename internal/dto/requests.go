package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateJobRequest публикация заказа
type CreateJobRequest struct {
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description" binding:"required"`
	Category     string          `json:"category"`
	Location     string          `json:"location"`
	Price        decimal.Decimal `json:"price"`
	ScheduledFor *time.Time      `json:"scheduledFor"`
}

// HireRequest выбор исполнителя и способа оплаты
type HireRequest struct {
	ProviderID    string `json:"providerId" binding:"required,uuid"`
	PaymentMethod string `json:"paymentMethod" binding:"omitempty,oneof=paypal card"`
}

// CaptureRequest списание заказа, одобренного покупателем у PayPal
type CaptureRequest struct {
	OrderID string `json:"orderId" binding:"required,max=64"`
}

// WithdrawRequest вывод средств на PayPal
type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaypalEmail string          `json:"paypalEmail" binding:"required,email"`
}

// ManualTriggerRequest ручной запуск события шлюза в разработке
type ManualTriggerRequest struct {
	JobID string `json:"jobId" binding:"required,uuid"`
	Event string `json:"event" binding:"omitempty,oneof=ORDER_APPROVED CAPTURE_COMPLETED CAPTURE_DENIED"`
}

// UpdateSettingsRequest настройки платформы
type UpdateSettingsRequest struct {
	EscrowPeriodMinutes int64 `json:"escrowPeriodMinutes" binding:"required,min=1,max=525600"`
}
