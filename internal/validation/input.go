package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// Константы валидации
const (
	MinJobTitleLength       = 3
	MaxJobTitleLength       = 200
	MinJobDescriptionLength = 10
	MaxJobDescriptionLength = 5000
	MaxCategoryLength       = 100
	MaxLocationLength       = 200
	MaxEmailLength          = 254
)

// MaxAmount верхняя граница суммы заказа и выплаты.
var MaxAmount = decimal.NewFromInt(1_000_000)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return invalid(fmt.Sprintf("%s должен быть не менее %d символов", fieldName, min))
	}
	if max > 0 && length > max {
		return invalid(fmt.Sprintf("%s должен быть не более %d символов", fieldName, max))
	}
	return nil
}

// ValidateJobInput проверяет текстовые поля заказа.
func ValidateJobInput(title, description, category, location string) error {
	if err := ValidateLength("заголовок заказа", strings.TrimSpace(title), MinJobTitleLength, MaxJobTitleLength); err != nil {
		return err
	}
	if err := ValidateLength("описание заказа", strings.TrimSpace(description), MinJobDescriptionLength, MaxJobDescriptionLength); err != nil {
		return err
	}
	if err := ValidateLength("категория", strings.TrimSpace(category), 0, MaxCategoryLength); err != nil {
		return err
	}
	return ValidateLength("адрес", strings.TrimSpace(location), 0, MaxLocationLength)
}

// ValidateAmount проверяет денежную сумму: положительная, не больше MaxAmount, не точнее цента.
func ValidateAmount(fieldName string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(fmt.Sprintf("%s должна быть положительной", fieldName))
	}
	if amount.GreaterThan(MaxAmount) {
		return invalid(fmt.Sprintf("%s не может превышать %s", fieldName, MaxAmount.String()))
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid(fmt.Sprintf("%s указывается с точностью до цента", fieldName))
	}
	return nil
}

// ValidatePayoutEmail проверяет длину адреса получателя. Формат проверяет binding.
func ValidatePayoutEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("email для выплаты обязателен")
	}
	return ValidateLength("email для выплаты", email, 0, MaxEmailLength)
}

func invalid(msg string) error {
	return apperror.New(apperror.ErrCodeValidation, msg)
}
