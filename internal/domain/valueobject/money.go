package valueobject

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// CentPlaces точность денежных сумм.
const CentPlaces = 2

// Tolerance допустимое расхождение хранимых и пересчитанных сумм.
var Tolerance = decimal.New(1, -CentPlaces)

// DefaultFeeRate комиссия платформы по умолчанию (10%).
var DefaultFeeRate = decimal.New(10, -2)

// RoundCents округляет до центов по правилу half-up.
func RoundCents(v decimal.Decimal) decimal.Decimal {
	return v.Round(CentPlaces)
}

// NewAmount проверяет, что сумма положительна, и приводит её к центам.
func NewAmount(v decimal.Decimal) (decimal.Decimal, error) {
	if !v.IsPositive() {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "сумма должна быть больше нуля")
	}
	rounded := RoundCents(v)
	if !rounded.IsPositive() {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "сумма меньше одного цента")
	}
	return rounded, nil
}

// Charge фиксирует сумму списания с покупателя и комиссию платформы.
type Charge struct {
	Price      decimal.Decimal
	ServiceFee decimal.Decimal
	Amount     decimal.Decimal
}

// NewCharge считает комиссию от цены заказа; покупатель платит цену плюс комиссию.
func NewCharge(price, feeRate decimal.Decimal) (Charge, error) {
	p, err := NewAmount(price)
	if err != nil {
		return Charge{}, err
	}
	fee := RoundCents(p.Mul(feeRate))
	return Charge{Price: p, ServiceFee: fee, Amount: p.Add(fee)}, nil
}

// ProviderShare доля исполнителя: amount - serviceFee.
func ProviderShare(amount, serviceFee decimal.Decimal) decimal.Decimal {
	return RoundCents(amount.Sub(serviceFee))
}

// Drifted сообщает, что хранимое значение разошлось с пересчитанным больше чем на цент.
func Drifted(stored, recomputed decimal.Decimal) bool {
	return stored.Sub(recomputed).Abs().GreaterThan(Tolerance)
}

// NonNegative обрезает отрицательный результат до нуля.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
