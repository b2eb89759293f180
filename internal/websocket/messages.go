package websocket

import (
	"time"

	"perpdex/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeOrder - новый ордер или изменение статуса ордера
	// Отправляется при создании, частичном исполнении, отмене, экспирации
	MessageTypeOrder MessageType = "order:new"

	// MessageTypeTrade - исполненная сделка
	// Отправляется при каждом матче в книге ордеров
	MessageTypeTrade MessageType = "trade"

	// MessageTypeLiquidation - принудительное закрытие позиции
	// Отправляется монитором ликвидаций
	MessageTypeLiquidation MessageType = "liquidation"

	// MessageTypeTicker - обновление рыночных данных
	// Отправляется каждым тиком price feed (интервал из конфига)
	MessageTypeTicker MessageType = "ticker"

	// MessageTypeOrderbook - снапшот стакана после изменения
	// Отправляется после матчинга, отмены и экспирации ордеров
	MessageTypeOrderbook MessageType = "orderbook"

	// MessageTypeMarkets - снапшот всех рынков
	// Отправляется клиенту сразу после подключения
	MessageTypeMarkets MessageType = "markets"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderMessage - сообщение об ордере
type OrderMessage struct {
	BaseMessage
	Data *models.Order `json:"data"`
}

// TradeMessage - сообщение о сделке
type TradeMessage struct {
	BaseMessage
	Market string        `json:"market"`
	Data   *models.Trade `json:"data"`
}

// LiquidationMessage - сообщение о ликвидации
type LiquidationMessage struct {
	BaseMessage
	Market string              `json:"market"`
	Data   *models.Liquidation `json:"data"`
}

// TickerMessage - сообщение с рыночными данными
type TickerMessage struct {
	BaseMessage
	Market string             `json:"market"`
	Data   *models.MarketData `json:"data"`
}

// OrderbookMessage - снапшот стакана
type OrderbookMessage struct {
	BaseMessage
	Market string            `json:"market"`
	Data   *models.Orderbook `json:"data"`
}

// MarketsMessage - снапшот всех рынков (начальная загрузка клиента)
type MarketsMessage struct {
	BaseMessage
	Data []*models.MarketData `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewOrderMessage создает сообщение об ордере
func NewOrderMessage(order *models.Order) *OrderMessage {
	return &OrderMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeOrder,
			Timestamp: time.Now(),
		},
		Data: order,
	}
}

// NewTradeMessage создает сообщение о сделке
func NewTradeMessage(trade *models.Trade) *TradeMessage {
	return &TradeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTrade,
			Timestamp: time.Now(),
		},
		Market: trade.Market,
		Data:   trade,
	}
}

// NewLiquidationMessage создает сообщение о ликвидации
func NewLiquidationMessage(liq *models.Liquidation) *LiquidationMessage {
	return &LiquidationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeLiquidation,
			Timestamp: time.Now(),
		},
		Market: liq.Market,
		Data:   liq,
	}
}

// NewTickerMessage создает сообщение с рыночными данными
func NewTickerMessage(data *models.MarketData) *TickerMessage {
	return &TickerMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTicker,
			Timestamp: time.Now(),
		},
		Market: data.Market,
		Data:   data,
	}
}

// NewOrderbookMessage создает снапшот стакана
func NewOrderbookMessage(ob *models.Orderbook) *OrderbookMessage {
	return &OrderbookMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeOrderbook,
			Timestamp: time.Now(),
		},
		Market: ob.Market,
		Data:   ob,
	}
}

// NewMarketsMessage создает снапшот всех рынков
func NewMarketsMessage(markets []*models.MarketData) *MarketsMessage {
	return &MarketsMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeMarkets,
			Timestamp: time.Now(),
		},
		Data: markets,
	}
}
