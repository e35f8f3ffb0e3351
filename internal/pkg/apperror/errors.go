package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeDuplicateEscrow   ErrorCode = "DUPLICATE_ESCROW"
	ErrCodeEscrowNotElapsed  ErrorCode = "ESCROW_NOT_ELAPSED"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeGateway           ErrorCode = "GATEWAY_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	// Details уходят клиенту вместе с сообщением
	Details map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с копиями sentinel-значений.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// InvalidState сообщает о недопустимом переходе конечного автомата.
func InvalidState(message string) *AppError {
	return New(ErrCodeInvalidState, message)
}

// Database оборачивает сбой хранилища.
func Database(err error, op string) *AppError {
	return Wrap(err, ErrCodeDatabaseError, op)
}

// Gateway оборачивает сбой внешнего платёжного шлюза.
func Gateway(err error, message string) *AppError {
	return Wrap(err, ErrCodeGateway, message)
}

// EscrowNotElapsed возвращается покупателю, который пытается завершить сделку раньше срока.
func EscrowNotElapsed(secondsRemaining int64) *AppError {
	e := New(ErrCodeEscrowNotElapsed, fmt.Sprintf("период удержания ещё не истёк, осталось %d сек.", secondsRemaining))
	e.Details = map[string]interface{}{"secondsRemaining": secondsRemaining}
	return e
}

// SecondsRemaining извлекает остаток периода удержания из ошибки ESCROW_NOT_ELAPSED.
func SecondsRemaining(err error) (int64, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != ErrCodeEscrowNotElapsed {
		return 0, false
	}
	v, ok := appErr.Details["secondsRemaining"].(int64)
	return v, ok
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidState, ErrCodeDuplicateEscrow, ErrCodeEscrowNotElapsed:
		return http.StatusConflict
	case ErrCodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HasCode проверяет код ошибки по всей цепочке.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsInvalidState(err error) bool {
	return HasCode(err, ErrCodeInvalidState)
}

func IsDuplicateEscrow(err error) bool {
	return HasCode(err, ErrCodeDuplicateEscrow)
}

var (
	ErrJobNotFound          = New(ErrCodeNotFound, "заказ не найден")
	ErrTransactionNotFound  = New(ErrCodeNotFound, "транзакция не найдена")
	ErrUserNotFound         = New(ErrCodeNotFound, "пользователь не найден")
	ErrNotificationNotFound = New(ErrCodeNotFound, "уведомление не найдено")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
	ErrDuplicateEscrow      = New(ErrCodeDuplicateEscrow, "средства по этой транзакции уже удерживаются")
	ErrInsufficientFunds    = New(ErrCodeInsufficientFunds, "недостаточно средств на балансе")
	ErrInvalidSignature     = New(ErrCodeUnauthorized, "подпись вебхука не прошла проверку")
)
