package websocket

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// размер очереди доставки hub'а
const deliveryBufferSize = 1024

// delivery - закодированное сообщение и его адресат:
// пользователь (ownerID > 0) или публичный канал
type delivery struct {
	ownerID int64
	channel string
	data    []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Личные события (order_update, balance_update, свои сделки) уходят всем
// соединениям владельца. Публичные (trades:SYMBOL, orderbook:SYMBOL) -
// соединениям, подписанным на канал.
//
// Publish никогда не блокирует: при переполнении очереди сообщение
// отбрасывается и учитывается в DroppedMessages. Клиент, не успевающий
// читать свой буфер, отключается.
//
// Использование:
// 1. hub := NewHub(registry, logger)
// 2. go hub.Run()
// 3. engine публикует события через hub.Publish
type Hub struct {
	// Зарегистрированные клиенты и индекс по владельцу
	clients map[*Client]bool
	byOwner map[int64]map[*Client]bool

	deliveries chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64

	// реестр пар для нормализации имён каналов, nil = без проверки
	symbols *models.SymbolRegistry
	logger  *utils.Logger

	origins  originPolicy
	upgrader websocket.Upgrader

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(symbols *models.SymbolRegistry, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		byOwner:    make(map[int64]map[*Client]bool),
		deliveries: make(chan delivery, deliveryBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		symbols:    symbols,
		logger:     logger.WithComponent("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			h.mu.RLock()
			defer h.mu.RUnlock()
			return h.origins.allows(r.Header.Get("Origin"))
		},
	}
	return h
}

// AllowOrigins ограничивает Origin браузерных клиентов.
// Пустой список снимает ограничение.
func (h *Hub) AllowOrigins(origins []string) {
	policy := newOriginPolicy(origins)
	h.mu.Lock()
	h.origins = policy
	h.mu.Unlock()
}

// Run запускает главный цикл Hub до вызова Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.ownerID > 0 {
				if h.byOwner[client.ownerID] == nil {
					h.byOwner[client.ownerID] = make(map[*Client]bool)
				}
				h.byOwner[client.ownerID][client] = true
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", utils.UserID(client.ownerID), zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", utils.UserID(client.ownerID), zap.Int("clients", total))

		case d := <-h.deliveries:
			h.deliver(d)

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver рассылает сообщение адресатам
//
// Список получателей копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*Client
	if d.ownerID > 0 {
		for client := range h.byOwner[d.ownerID] {
			targets = append(targets, client)
		}
	} else {
		for client := range h.clients {
			if client.subscribed(d.channel) {
				targets = append(targets, client)
			}
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range targets {
		select {
		case client.send <- d.data:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			h.remove(client)
		}
		total := len(h.clients)
		h.mu.Unlock()
		h.logger.Warn("removed slow clients", zap.Int("clients", total))
	}
}

// remove вызывается под h.mu
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if owned := h.byOwner[client.ownerID]; owned != nil {
		delete(owned, client)
		if len(owned) == 0 {
			delete(h.byOwner, client.ownerID)
		}
	}
	close(client.send)
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish implements notify.Notifier
func (h *Hub) Publish(_ context.Context, ev notify.Event) {
	msgType := MessageType(ev.Type)

	switch ev.Type {
	case notify.EventOrderUpdate:
		h.send(ev.OwnerID, "", msgType, ev.Order, ev.Timestamp)

	case notify.EventBalanceUpdate:
		h.send(ev.OwnerID, "", msgType, ev.Balance, ev.Timestamp)

	case notify.EventTradeExecution:
		if ev.Trade == nil {
			return
		}
		h.send(0, TradesChannel(ev.Trade.Symbol), msgType, ev.Trade.Public(), ev.Timestamp)
		h.send(ev.Trade.BuyerID, "", msgType, ev.Trade, ev.Timestamp)
		if ev.Trade.SellerID != ev.Trade.BuyerID {
			h.send(ev.Trade.SellerID, "", msgType, ev.Trade, ev.Timestamp)
		}

	case notify.EventOrderBook:
		if ev.Book == nil {
			return
		}
		h.send(0, OrderBookChannel(ev.Book.Symbol), msgType, ev.Book, ev.Timestamp)
	}
}

func (h *Hub) send(ownerID int64, channel string, msgType MessageType, data interface{}, ts time.Time) {
	if ownerID <= 0 && channel == "" {
		return
	}

	encoded, err := encode(&ServerMessage{Type: msgType, Channel: channel, Data: data, Timestamp: ts})
	if err != nil {
		h.logger.Error("failed to encode message", zap.Error(err))
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.deliveries <- delivery{ownerID: ownerID, channel: channel, data: encoded}:
	default:
		h.dropped.Add(1)
		notify.RecordDroppedEvent("websocket")
	}
}

// encode сериализует сообщение через буфер из пула
func encode(msg interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// normalizeChannel приводит имя канала к виду "trades:BTCUSDT"
func (h *Hub) normalizeChannel(channel string) (string, bool) {
	kind, symbol, ok := parseChannel(channel)
	if !ok {
		return "", false
	}
	if h.symbols == nil {
		return kind + ":" + utils.NormalizeSymbol(symbol), true
	}
	sym, ok := h.symbols.Lookup(symbol)
	if !ok {
		return "", false
	}
	return kind + ":" + sym.Name, true
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных при переполнении
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

var _ notify.Notifier = (*Hub)(nil)
