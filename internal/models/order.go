package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side - сторона ордера
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite возвращает встречную сторону
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid проверяет что сторона известна
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Valid проверяет что тип известен
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// Order представляет ордер пользователя
//
// Price задан только у limit ордеров. LockedAmount - часть locked баланса
// владельца, которая всё ещё зарезервирована под этот ордер
// (quote актив для buy, base актив для sell).
type Order struct {
	ID             int64               `json:"id" db:"id"`
	OwnerID        int64               `json:"owner_id" db:"owner_id"`
	Symbol         string              `json:"symbol" db:"symbol"`
	Side           Side                `json:"side" db:"side"`
	Type           OrderType           `json:"type" db:"type"`
	Quantity       decimal.Decimal     `json:"quantity" db:"quantity"`
	Price          decimal.NullDecimal `json:"price" db:"price"`
	FilledQuantity decimal.Decimal     `json:"filled_quantity" db:"filled_quantity"`
	LockedAmount   decimal.Decimal     `json:"locked_amount" db:"locked_amount"`
	Status         OrderStatus         `json:"status" db:"status"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// Remaining возвращает неисполненный объём
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsResting возвращает true если ордер лежит в стакане
func (o *Order) IsResting() bool {
	return o.Type == OrderTypeLimit && (o.Status == OrderStatusOpen || o.Status == OrderStatusPartial)
}

// Crosses проверяет, может ли taker исполниться по цене price встречного ордера
func (o *Order) Crosses(price decimal.Decimal) bool {
	if o.Type == OrderTypeMarket || !o.Price.Valid {
		return true
	}
	if o.Side == SideBuy {
		return price.LessThanOrEqual(o.Price.Decimal)
	}
	return price.GreaterThanOrEqual(o.Price.Decimal)
}

// Clone возвращает независимую копию ордера
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// OrderFilter - параметры выборки ордеров пользователя
type OrderFilter struct {
	Symbol string
	Status OrderStatus // пусто = любые
	Limit  int
	Offset int
}
