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

	// Максимальный размер входящего сообщения.
	// Клиенты ничего содержательного не шлют, хватает с запасом
	maxMessageSize = 4096

	// Размер буфера отправки клиента.
	// Снапшот стакана + тикеры пяти рынков легко дают всплески
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker создает проверку по списку разрешённых origins.
// Пустой список или "*" разрешает все (development mode).
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	if len(origins) == 0 {
		checker.allowAll = true
		return checker
	}

	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
			continue
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // non-browser clients (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// clientPool - пул для переиспользования Client структур
var clientPool = sync.Pool{
	New: func() interface{} {
		return &Client{
			send: make(chan []byte, clientSendBufferSize),
		}
	},
}

// Client представляет одно WebSocket соединение
//
// Каждый клиент держит две горутины:
// 1. readPump - читает сообщения от клиента и контролирует живость
// 2. writePump - пишет сообщения из буферизованного канала send
//
// Регистрация и удаление клиента идут через каналы Hub.
type Client struct {
	// WebSocket соединение
	conn *websocket.Conn

	// Hub которому принадлежит клиент
	hub *Hub

	// Буферизованный канал исходящих сообщений
	send chan []byte
}

// readPump читает сообщения от клиента
//
// Поток данных односторонний (сервер -> клиент), поэтому входящие
// сообщения игнорируются, но чтение нужно для обработки pong и close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.returnToPool()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			break
		}
	}
}

// writePump отправляет сообщения клиенту
//
// Читает из канала send и отправляет через WebSocket.
// Накопившиеся в буфере сообщения склеиваются в один frame.
func (c *Client) writePump() {
	// Локальные ссылки: readPump может вернуть клиента в пул
	// (обнулив поля), пока writePump ещё работает
	conn := c.conn
	send := c.send
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Non-blocking drain буфера без race между len() и <-
		drainLoop:
			for {
				select {
				case msg, ok := <-send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// returnToPool возвращает клиента в пул после отключения
func (c *Client) returnToPool() {
	c.conn = nil
	c.hub = nil
	for len(c.send) > 0 {
		<-c.send
	}
	clientPool.Put(c)
}

// Upgrader строит websocket.Upgrader с проверкой origin из конфига
//
// Использование в routes:
// upgrader := websocket.Upgrader(cfg.Server.AllowedOrigins)
// router.HandleFunc("/ws/stream", hub.ServeWS(upgrader))
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	checker := NewOriginChecker(allowedOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return checker.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}
}

// ServeWS возвращает HTTP handler для WebSocket endpoint
//
// Апгрейдит HTTP соединение до WebSocket, создает нового клиента
// из пула и запускает его горутины.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := clientPool.Get().(*Client)
		client.conn = conn
		client.hub = h
		// Свежий канал: hub закрывает send при unregister, и клиент
		// из пула может прийти с уже закрытым каналом
		client.send = make(chan []byte, clientSendBufferSize)

		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}
