package engine

import "perpdex/internal/models"

// Broadcaster - сток уведомлений для fan-out клиентам.
// Ядро шлёт события fire-and-forget: медленный получатель
// не должен тормозить матчинг или ликвидации.
type Broadcaster interface {
	BroadcastOrder(order *models.Order)
	BroadcastTrade(trade *models.Trade)
	BroadcastLiquidation(liq *models.Liquidation)
	BroadcastTicker(data *models.MarketData)
	BroadcastOrderbook(ob *models.Orderbook)
}

// NopBroadcaster - заглушка для тестов и работы без WebSocket слоя
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastOrder(*models.Order)             {}
func (NopBroadcaster) BroadcastTrade(*models.Trade)             {}
func (NopBroadcaster) BroadcastLiquidation(*models.Liquidation) {}
func (NopBroadcaster) BroadcastTicker(*models.MarketData)       {}
func (NopBroadcaster) BroadcastOrderbook(*models.Orderbook)     {}
