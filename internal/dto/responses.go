package dto

import "github.com/ignatzorin/servicedesk-backend/internal/models"

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WebhookAck ответ шлюзу на доставленное событие
type WebhookAck struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// NotificationsResponse страница уведомлений
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}
