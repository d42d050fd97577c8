package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade - сделка между двумя ордерами, неизменяемая после записи
//
// Цена всегда равна цене maker ордера. Комиссия в котируемой валюте
// удерживается с продавца.
type Trade struct {
	ID          int64           `json:"id" db:"id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	BuyOrderID  int64           `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id" db:"sell_order_id"`
	BuyerID     int64           `json:"buyer_id" db:"buyer_id"`
	SellerID    int64           `json:"seller_id" db:"seller_id"`
	TakerSide   Side            `json:"taker_side" db:"taker_side"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Value возвращает объём сделки в котируемой валюте
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// PublicTrade - сделка без идентификаторов участников и ордеров
type PublicTrade struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	TakerSide Side            `json:"taker_side"`
	CreatedAt time.Time       `json:"created_at"`
}

// Public возвращает обезличенную копию сделки для публичных лент
func (t *Trade) Public() *PublicTrade {
	return &PublicTrade{
		ID:        t.ID,
		Symbol:    t.Symbol,
		Price:     t.Price,
		Quantity:  t.Quantity,
		TakerSide: t.TakerSide,
		CreatedAt: t.CreatedAt,
	}
}

// TradeFilter - параметры выборки сделок
type TradeFilter struct {
	Symbol string
	Limit  int
	Offset int
}

// MarketStats - агрегаты по сделкам пары за период
type MarketStats struct {
	Symbol      string          `json:"symbol"`
	Open        decimal.Decimal `json:"open"` // цена первой сделки периода
	Last        decimal.Decimal `json:"last"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
	Since       time.Time       `json:"since"`
}
