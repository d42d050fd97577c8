package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// math.go - денежная арифметика на decimal
//
// Все функции чистые. Количества и цены в системе имеют не более
// AmountPrecision знаков после запятой, комиссии усекаются до той же точности.

// AmountPrecision - максимальное число знаков после запятой у цены и объёма
const AmountPrecision int32 = 8

// MaxIntegerDigits - цифр до запятой в колонках NUMERIC(36,18)
const MaxIntegerDigits = 18

// MinUnit - минимальный шаг цены/объёма (1e-8)
var MinUnit = decimal.New(1, -AmountPrecision)

// Scale возвращает количество значащих знаков после запятой
//
// Хвостовые нули не учитываются: Scale(1.50) = 1.
func Scale(d decimal.Decimal) int32 {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	coef := d.Coefficient().String()
	zeros := len(coef) - len(strings.TrimRight(coef, "0"))
	if zeros == len(coef) {
		return 0
	}
	// exp и zeros не больше длины исходной строки, переполнения int32 нет
	if scale := -exp - int32(zeros); scale > 0 {
		return scale
	}
	return 0
}

// IntegerDigits возвращает число цифр до запятой (0 для |d| < 1)
func IntegerDigits(d decimal.Decimal) int {
	if d.IsZero() {
		return 0
	}
	n := d.NumDigits() + int(d.Exponent())
	if n < 0 {
		return 0
	}
	return n
}

// FitsPrecision проверяет что значение укладывается в AmountPrecision знаков
func FitsPrecision(d decimal.Decimal) bool {
	return Scale(d) <= AmountPrecision
}

// TruncateAmount усекает значение вниз до AmountPrecision знаков
//
// Для положительных значений это округление вниз, никогда не превышает исходное.
func TruncateAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountPrecision)
}

// MinDecimal возвращает меньшее из двух значений
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// OrderBookLevel представляет один уровень стакана ордеров
type OrderBookLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// SimulateMarketBuy моделирует рыночную покупку заданного объёма.
//
// Проходит по уровням Ask (от лучшего к худшему) и считает стоимость
// покупки с учётом глубины стакана.
//
// Возвращает:
//   - cost: Σ(price × volume) по взятым уровням
//   - filledVolume: реально доступный объём (может быть < targetVolume)
func SimulateMarketBuy(asks []OrderBookLevel, targetVolume decimal.Decimal) (cost, filledVolume decimal.Decimal) {
	if len(asks) == 0 || !targetVolume.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	remaining := targetVolume
	for _, level := range asks {
		if !level.Price.IsPositive() || !level.Volume.IsPositive() {
			continue
		}

		take := MinDecimal(remaining, level.Volume)
		cost = cost.Add(level.Price.Mul(take))
		filledVolume = filledVolume.Add(take)
		remaining = remaining.Sub(take)

		if !remaining.IsPositive() {
			break
		}
	}

	return cost, filledVolume
}

// AffordableQuantity возвращает максимальный объём по цене price,
// стоимость которого не превышает budget, усечённый до AmountPrecision
func AffordableQuantity(budget, price decimal.Decimal) decimal.Decimal {
	if !budget.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	qty := TruncateAmount(budget.DivRound(price, AmountPrecision+8))
	// DivRound может округлить вверх в последнем знаке
	for qty.IsPositive() && price.Mul(qty).GreaterThan(budget) {
		qty = qty.Sub(MinUnit)
	}
	return qty
}
