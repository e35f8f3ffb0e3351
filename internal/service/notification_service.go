package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
)

// Notifier отправка уведомления участнику сделки. Ошибки доставки не возвращаются.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, message string, related *models.Related)
}

// Pusher доставляет событие подключённому клиенту.
type Pusher interface {
	SendToUser(userID uuid.UUID, event string, payload interface{})
}

// NotificationService хранит уведомления и пушит их по websocket.
type NotificationService struct {
	repo   domainrepo.NotificationRepository
	pusher Pusher
}

// NewNotificationService создаёт сервис уведомлений. pusher может быть nil.
func NewNotificationService(repo domainrepo.NotificationRepository, pusher Pusher) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher}
}

// Notify сохраняет уведомление и отправляет его получателю.
// Вызывается после фиксации операции, поэтому сбой только логируется.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, kind, message string, related *models.Related) {
	n := &models.Notification{
		UserID:  userID,
		Type:    kind,
		Message: message,
	}
	n.SetRelated(related)

	if err := s.repo.Create(context.WithoutCancel(ctx), n); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"type":    kind,
		}).Warn("не удалось сохранить уведомление")
		return
	}

	if s.pusher != nil {
		s.pusher.SendToUser(userID, "notification", n)
	}
}

// List возвращает уведомления пользователя, новые первыми.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// MarkAsRead отмечает уведомление прочитанным. Чужое уведомление считается ненайденным.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id, userID)
}
