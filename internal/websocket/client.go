package websocket

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения (команды клиента)
	maxMessageSize = 4096

	// Размер буфера событий клиента
	clientSendBufferSize = 512

	// Размер буфера ответов на команды
	clientReplyBufferSize = 16

	// Лимит подписок на одно соединение
	maxSubscriptions = 64
)

// originPolicy - разрешённые Origin браузерных клиентов.
// Пустая политика пропускает всех; запрос без Origin (не браузер) пропускается всегда.
type originPolicy map[string]struct{}

func newOriginPolicy(origins []string) originPolicy {
	p := make(originPolicy, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			p[o] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" || len(p) == 0 {
		return true
	}
	_, ok := p[origin]
	return ok
}

// Client представляет одно WebSocket соединение
//
// Каждый клиент имеет две горутины:
// 1. readPump - читает команды subscribe/unsubscribe/ping
// 2. writePump - пишет события и ответы на команды
//
// Канал send принадлежит hub'у (он же его закрывает), ответы на команды
// идут через отдельный канал replies.
type Client struct {
	// WebSocket соединение
	conn *websocket.Conn

	// Hub которому принадлежит клиент
	hub *Hub

	// Владелец соединения, 0 = анонимный (только публичные каналы)
	ownerID int64

	// События от hub
	send chan []byte

	// Ответы на команды клиента
	replies chan []byte

	subsMu sync.RWMutex
	subs   map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, ownerID int64) *Client {
	return &Client{
		conn:    conn,
		hub:     hub,
		ownerID: ownerID,
		send:    make(chan []byte, clientSendBufferSize),
		replies: make(chan []byte, clientReplyBufferSize),
		subs:    make(map[string]struct{}),
	}
}

func (c *Client) subscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// subscribe добавляет каналы, возвращает принятые и отклонённые
func (c *Client) subscribe(channels []string) (accepted, rejected []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, raw := range channels {
		channel, ok := c.hub.normalizeChannel(raw)
		if !ok {
			rejected = append(rejected, raw)
			continue
		}
		if _, exists := c.subs[channel]; !exists && len(c.subs) >= maxSubscriptions {
			rejected = append(rejected, raw)
			continue
		}
		c.subs[channel] = struct{}{}
		accepted = append(accepted, channel)
	}
	return accepted, rejected
}

func (c *Client) unsubscribe(channels []string) []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	removed := make([]string, 0, len(channels))
	for _, raw := range channels {
		channel, ok := c.hub.normalizeChannel(raw)
		if !ok {
			continue
		}
		if _, exists := c.subs[channel]; exists {
			delete(c.subs, channel)
			removed = append(removed, channel)
		}
	}
	return removed
}

// handleCommand обрабатывает одну команду клиента
func (c *Client) handleCommand(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(MessageTypeError, ErrorData{Message: "invalid message"})
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		accepted, rejected := c.subscribe(msg.Channels)
		if len(rejected) > 0 {
			c.reply(MessageTypeError, ErrorData{Message: "unknown channels: " + strings.Join(rejected, ",")})
		}
		if len(accepted) > 0 {
			c.reply(MessageTypeSubscribed, ChannelsData{Channels: accepted})
		}

	case MessageTypeUnsubscribe:
		c.reply(MessageTypeUnsubscribed, ChannelsData{Channels: c.unsubscribe(msg.Channels)})

	case MessageTypePing:
		c.reply(MessageTypePong, nil)

	default:
		c.reply(MessageTypeError, ErrorData{Message: "unknown message type"})
	}
}

// reply кладёт ответ в очередь, при переполнении ответ теряется
func (c *Client) reply(msgType MessageType, data interface{}) {
	encoded, err := encode(&ServerMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	select {
	case c.replies <- encoded:
	default:
	}
}

// readPump читает сообщения от клиента
//
// Запускается в отдельной горутине для каждого клиента.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleCommand(message)
	}
}

// writePump - единственный писатель в conn.
// События, накопившиеся в send, уходят одним кадром через '\n'.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case first, ok := <-c.send:
			if !ok {
				// hub отключил клиента
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			err = c.writeBatch(first)
		case reply := <-c.replies:
			err = c.write(websocket.TextMessage, reply)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) write(msgType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msgType, data)
}

// writeBatch пишет first и всё, что уже лежит в send, без ожидания
func (c *Client) writeBatch(first []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for pending := len(c.send); pending > 0; pending-- {
		msg, ok := <-c.send
		if !ok {
			break
		}
		w.Write([]byte{'\n'})
		w.Write(msg)
	}
	return w.Close()
}

// ServeWS апгрейдит HTTP соединение до WebSocket и регистрирует клиента.
// ownerID определяет получателя личных событий, 0 - анонимное соединение.
//
// Использование в routes:
//
//	router.HandleFunc("/ws/stream", func(w, r) { websocket.ServeWS(hub, owner, w, r) })
func ServeWS(hub *Hub, ownerID int64, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	client := newClient(hub, conn, ownerID)

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
