package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// ErrorHandler логирует ошибки из c.Errors и отвечает, если хэндлер ещё не ответил.
// Сообщения AppError уходят клиенту, остальные ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := ErrorResponse(err)
		if c.Writer.Written() {
			status = c.Writer.Status()
		}

		entry := logger.Log.WithFields(logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("Request error")
		} else {
			entry.Warn("Request error")
		}

		if !c.Writer.Written() {
			c.JSON(status, body)
		}
	}
}

// ErrorResponse переводит ошибку в HTTP статус и тело ответа.
func ErrorResponse(err error) (int, gin.H) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Message
	if status >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeGateway {
		message = "внутренняя ошибка сервера"
	}

	body := gin.H{"error": message, "code": appErr.Code}
	for k, v := range appErr.Details {
		body[k] = v
	}
	return status, body
}
