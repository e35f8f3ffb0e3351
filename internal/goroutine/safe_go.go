package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/logger"
)

// RecoveryHandler обрабатывает panic в фоновых задачах.
type RecoveryHandler struct {
	log *logrus.Entry
}

// NewRecoveryHandler создает обработчик, который пишет panic в переданный лог.
func NewRecoveryHandler(log *logrus.Entry) *RecoveryHandler {
	return &RecoveryHandler{log: log}
}

// Recover вызывается через defer. name попадает в лог, чтобы найти упавшую задачу.
func (rh *RecoveryHandler) Recover(name string) {
	if r := recover(); r != nil {
		rh.log.WithFields(logrus.Fields{
			"task":  name,
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("panic в фоновой задаче")
	}
}

// SafeGo запускает горутину с обработкой panic.
func (rh *RecoveryHandler) SafeGo(name string, fn func()) {
	go func() {
		defer rh.Recover(name)
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer rh.Recover(name)
		fn(ctx)
	}()
}

// DefaultRecoveryHandler пишет в общий логгер приложения.
var DefaultRecoveryHandler = NewRecoveryHandler(logger.Component("goroutine"))

// SafeGo запускает горутину через DefaultRecoveryHandler.
func SafeGo(name string, fn func()) {
	DefaultRecoveryHandler.SafeGo(name, fn)
}

// SafeGoWithContext запускает горутину с контекстом через DefaultRecoveryHandler.
func SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, name, fn)
}

// Recover для defer в коллбэках, которые уже выполняются в своей горутине.
func Recover(name string) {
	DefaultRecoveryHandler.Recover(name)
}
