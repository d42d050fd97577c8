package notify

import (
	"context"
	"time"

	"spotex/internal/models"
)

// EventType - тип события ядра
type EventType string

const (
	EventOrderUpdate    EventType = "order_update"
	EventTradeExecution EventType = "trade_execution"
	EventBalanceUpdate  EventType = "balance_update"
	EventOrderBook      EventType = "orderbook"
)

// Event - уведомление, публикуемое только после коммита транзакции
//
// Заполнено ровно одно из полей Order/Trade/Balance/Book в зависимости от Type.
// OwnerID = 0 у публичных событий (trade_execution, orderbook).
type Event struct {
	Type      EventType         `json:"type"`
	OwnerID   int64             `json:"owner_id,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Order     *models.Order     `json:"order,omitempty"`
	Trade     *models.Trade     `json:"trade,omitempty"`
	Balance   *models.Balance   `json:"balance,omitempty"`
	Book      *models.OrderBook `json:"book,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier доставляет события подписчикам
//
// Publish не должен блокировать движок: доставка асинхронная,
// потери при переполнении учитываются реализацией.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// OrderUpdate создаёт событие изменения ордера
func OrderUpdate(order *models.Order) Event {
	return Event{
		Type:      EventOrderUpdate,
		OwnerID:   order.OwnerID,
		Symbol:    order.Symbol,
		Order:     order,
		Timestamp: time.Now().UTC(),
	}
}

// TradeExecution создаёт событие сделки
func TradeExecution(trade *models.Trade) Event {
	return Event{
		Type:      EventTradeExecution,
		Symbol:    trade.Symbol,
		Trade:     trade,
		Timestamp: time.Now().UTC(),
	}
}

// BalanceUpdate создаёт событие изменения кошелька
func BalanceUpdate(balance *models.Balance) Event {
	return Event{
		Type:      EventBalanceUpdate,
		OwnerID:   balance.OwnerID,
		Balance:   balance,
		Timestamp: time.Now().UTC(),
	}
}

// BookSnapshot создаёт событие со снимком стакана
func BookSnapshot(book *models.OrderBook) Event {
	return Event{
		Type:      EventOrderBook,
		Symbol:    book.Symbol,
		Book:      book,
		Timestamp: book.Timestamp,
	}
}

// Fanout рассылает событие всем вложенным получателям по порядку
type Fanout []Notifier

// Publish implements Notifier
func (f Fanout) Publish(ctx context.Context, event Event) {
	for _, n := range f {
		if n != nil {
			n.Publish(ctx, event)
		}
	}
}

// Nop отбрасывает события
type Nop struct{}

// Publish implements Notifier
func (Nop) Publish(context.Context, Event) {}

var (
	_ Notifier = Fanout(nil)
	_ Notifier = Nop{}
)
