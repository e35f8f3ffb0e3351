package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	"github.com/ignatzorin/servicedesk-backend/internal/dto"
	"github.com/ignatzorin/servicedesk-backend/internal/http/middleware"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// ErrNoUser в контексте нет пользователя, значит маршрут собран без AuthMiddleware.
var ErrNoUser = errors.New("пользователь не найден в контексте")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CurrentUserID пользователь, прошедший AuthMiddleware.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	userID, ok := c.Value(middleware.ContextUserIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, ErrNoUser
	}
	return userID, nil
}

// CurrentActor участник сделки из контекста запроса.
// Доверенный вызов автозавершения получает системного участника.
func CurrentActor(c *gin.Context) (entity.Actor, error) {
	if c.GetBool(middleware.ContextAutoCompleteKey) {
		return entity.SystemActor(), nil
	}
	userID, err := CurrentUserID(c)
	if err != nil {
		return entity.Actor{}, err
	}
	return entity.Actor{UserID: userID, Role: c.GetString(middleware.ContextRoleKey)}, nil
}

// ParseUUIDParam разбирает UUID из параметра пути.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	return ParseUUID(c.Param(name), name)
}

// ParseUUID разбирает идентификатор из тела запроса, ошибка отдаётся как 400.
func ParseUUID(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperror.New(apperror.ErrCodeValidation, "неверный формат идентификатора "+field)
	}
	return id, nil
}

// RespondAppError отвечает статусом из AppError и кладёт ошибку в c.Errors для логирования.
func RespondAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(middleware.ErrorResponse(err))
}

// RespondUnauthorized 401 для запроса без пользователя в контексте.
func RespondUnauthorized(c *gin.Context) {
	RespondAppError(c, apperror.ErrUnauthorized)
}

// RespondBadRequest 400 с произвольным сообщением, без кода приложения.
func RespondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: message})
}

// GetPagination limit и offset из query, limit в пределах [1, 100].
func GetPagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
