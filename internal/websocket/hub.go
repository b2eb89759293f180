package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"perpdex/internal/models"
	"perpdex/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============
// Broadcast вызывается на каждый тик прайс-фида и каждый матч,
// пул убирает аллокации на горячем пути

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast событий движка всем подключенным
// клиентам. Реализует engine.Broadcaster: ядро шлёт события fire-and-forget,
// медленный клиент отключается, а не тормозит матчинг.
//
// Типы сообщений:
// - order:new: создание или изменение статуса ордера
// - trade: исполненная сделка
// - liquidation: принудительное закрытие позиции
// - ticker: обновление рыночных данных
// - orderbook: снапшот стакана
// - markets: снапшот всех рынков при подключении
//
// Использование:
// 1. Создать hub: hub := NewHub(log)
// 2. Запустить в горутине: go hub.Run()
// 3. Передать движку как Broadcaster
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	done chan struct{}

	// Счётчик сообщений, отброшенных из-за переполнения broadcast
	dropped atomic.Int64

	// Снапшот рынков для новых клиентов (последний markets broadcast)
	welcome atomic.Pointer[[]byte]

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	log *logger.Logger
}

// NewHub создает новый Hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast.
//
// Список клиентов копируется под коротким RLock, отправка идёт
// без блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			// Новому клиенту сразу отдаём снапшот рынков
			if snapshot := h.welcome.Load(); snapshot != nil {
				select {
				case client.send <- *snapshot:
				default:
				}
			}
			h.log.Debug("websocket client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow websocket clients",
					zap.Int("removed", len(toRemove)),
					zap.Int("clients", total))
			}
		}
	}
}

// Stop останавливает главный цикл и закрывает всех клиентов
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast сериализует сообщение и рассылает всем клиентам
//
// Неблокирующий: если broadcast канал переполнен, сообщение
// отбрасывается и инкрементируется счётчик dropped.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encoder добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем: буфер возвращается в пул
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw рассылает уже сериализованное сообщение
func (h *Hub) BroadcastRaw(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// ============ engine.Broadcaster ============

// BroadcastOrder отправляет событие ордера
func (h *Hub) BroadcastOrder(order *models.Order) {
	h.Broadcast(NewOrderMessage(order))
}

// BroadcastTrade отправляет событие сделки
func (h *Hub) BroadcastTrade(trade *models.Trade) {
	h.Broadcast(NewTradeMessage(trade))
}

// BroadcastLiquidation отправляет событие ликвидации
func (h *Hub) BroadcastLiquidation(liq *models.Liquidation) {
	h.Broadcast(NewLiquidationMessage(liq))
}

// BroadcastTicker отправляет обновление рыночных данных
func (h *Hub) BroadcastTicker(data *models.MarketData) {
	h.Broadcast(NewTickerMessage(data))
}

// BroadcastOrderbook отправляет снапшот стакана
func (h *Hub) BroadcastOrderbook(ob *models.Orderbook) {
	h.Broadcast(NewOrderbookMessage(ob))
}

// BroadcastMarkets отправляет снапшот всех рынков и запоминает
// его как welcome сообщение для новых клиентов
func (h *Hub) BroadcastMarkets(markets []*models.MarketData) {
	msg := NewMarketsMessage(markets)

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal markets message", zap.Error(err))
		return
	}
	h.welcome.Store(&data)
	h.BroadcastRaw(data)
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
