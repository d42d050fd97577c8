package websocket

import (
	"strings"
	"time"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Сообщения клиента
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
)

// Служебные ответы сервера. Сообщения с событиями несут тип события
// (order_update, trade_execution, balance_update, orderbook).
const (
	MessageTypePong         MessageType = "pong"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
)

// Префиксы публичных каналов
const (
	channelTrades    = "trades"
	channelOrderBook = "orderbook"
)

// ClientMessage - команда от клиента
//
//	{"type": "subscribe", "channels": ["trades:BTCUSDT", "orderbook:ETHUSDT"]}
type ClientMessage struct {
	Type     MessageType `json:"type"`
	Channels []string    `json:"channels,omitempty"`
}

// ServerMessage - сообщение клиенту
//
// Channel пуст у личных событий пользователя.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChannelsData - ответ на subscribe/unsubscribe
type ChannelsData struct {
	Channels []string `json:"channels"`
}

// ErrorData - описание ошибки команды
type ErrorData struct {
	Message string `json:"message"`
}

// TradesChannel - канал ленты сделок пары
func TradesChannel(symbol string) string {
	return channelTrades + ":" + symbol
}

// OrderBookChannel - канал снимков стакана пары
func OrderBookChannel(symbol string) string {
	return channelOrderBook + ":" + symbol
}

// parseChannel разбирает "kind:SYMBOL"
func parseChannel(channel string) (kind, symbol string, ok bool) {
	kind, symbol, found := strings.Cut(strings.TrimSpace(channel), ":")
	if !found || symbol == "" {
		return "", "", false
	}
	kind = strings.ToLower(kind)
	if kind != channelTrades && kind != channelOrderBook {
		return "", "", false
	}
	return kind, symbol, true
}
