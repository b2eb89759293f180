package service

import (
	"sync"

	"perpdex/internal/models"
)

// stubVerifier - управляемая проверка подписи для unit-тестов.
// Реальная криптография проверяется в пакете signature и в
// интеграционных тестах.
type stubVerifier struct {
	accept bool
	// последние аргументы для ассертов
	lastMessage string
	lastSig     string
	lastAddress string
}

func (v *stubVerifier) Verify(message, sigHex, expectedAddress string) bool {
	v.lastMessage = message
	v.lastSig = sigHex
	v.lastAddress = expectedAddress
	return v.accept
}

// recordingBroadcaster собирает разосланные события
type recordingBroadcaster struct {
	mu           sync.Mutex
	orders       []*models.Order
	trades       []*models.Trade
	liquidations []*models.Liquidation
	tickers      []*models.MarketData
	orderbooks   []*models.Orderbook
}

func (b *recordingBroadcaster) BroadcastOrder(o *models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
}

func (b *recordingBroadcaster) BroadcastTrade(t *models.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, t)
}

func (b *recordingBroadcaster) BroadcastLiquidation(l *models.Liquidation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.liquidations = append(b.liquidations, l)
}

func (b *recordingBroadcaster) BroadcastTicker(d *models.MarketData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickers = append(b.tickers, d)
}

func (b *recordingBroadcaster) BroadcastOrderbook(ob *models.Orderbook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderbooks = append(b.orderbooks, ob)
}

func (b *recordingBroadcaster) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *recordingBroadcaster) tradeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}
