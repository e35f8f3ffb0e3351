package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// EventKind закрытый набор событий вебхука.
type EventKind string

const (
	EventOrderApproved    EventKind = "ORDER_APPROVED"
	EventCaptureCompleted EventKind = "CAPTURE_COMPLETED"
	EventCaptureDenied    EventKind = "CAPTURE_DENIED"
	EventUnknown          EventKind = "UNKNOWN"
)

var eventTypes = map[string]EventKind{
	"CHECKOUT.ORDER.APPROVED":   EventOrderApproved,
	"PAYMENT.CAPTURE.COMPLETED": EventCaptureCompleted,
	"PAYMENT.CAPTURE.DENIED":    EventCaptureDenied,
}

// Event разобранное событие вебхука.
type Event struct {
	ID   string
	Type string
	Kind EventKind
	// PaymentID идентификатор заказа у шлюза, по нему ищется транзакция.
	PaymentID string
}

type rawEvent struct {
	ID        string          `json:"id" validate:"required"`
	EventType string          `json:"event_type" validate:"required"`
	Resource  json.RawMessage `json:"resource" validate:"required"`
}

type rawResource struct {
	ID                string `json:"id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

var validate = validator.New()

// ParseEvent разбирает тело вебхука.
// Для ORDER_APPROVED идентификатор заказа лежит в resource.id,
// для событий списания в resource.supplementary_data.related_ids.order_id.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный JSON события")
	}
	if err := validate.Struct(raw); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "в событии нет обязательных полей")
	}

	ev := &Event{ID: raw.ID, Type: raw.EventType, Kind: EventUnknown}
	kind, ok := eventTypes[raw.EventType]
	if !ok {
		return ev, nil
	}
	ev.Kind = kind

	var res rawResource
	if err := json.Unmarshal(raw.Resource, &res); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный resource события")
	}

	switch kind {
	case EventOrderApproved:
		ev.PaymentID = strings.TrimSpace(res.ID)
	default:
		ev.PaymentID = strings.TrimSpace(res.SupplementaryData.RelatedIDs.OrderID)
	}
	if ev.PaymentID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("в событии %s нет идентификатора заказа", raw.EventType))
	}
	return ev, nil
}

// BuildEvent собирает тело события для ручного запуска в dev-окружении.
func BuildEvent(kind EventKind, paymentID string) ([]byte, error) {
	var eventType string
	for t, k := range eventTypes {
		if k == kind {
			eventType = t
		}
	}
	if eventType == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип события")
	}

	resource := map[string]interface{}{"id": paymentID}
	if kind != EventOrderApproved {
		resource = map[string]interface{}{
			"id": "MANUAL-" + paymentID,
			"supplementary_data": map[string]interface{}{
				"related_ids": map[string]string{"order_id": paymentID},
			},
		}
	}
	return json.Marshal(map[string]interface{}{
		"id":         "WH-MANUAL-" + paymentID,
		"event_type": eventType,
		"resource":   resource,
	})
}
