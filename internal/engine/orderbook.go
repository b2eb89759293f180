package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpdex/internal/models"
	"perpdex/pkg/utils"
)

// Размеры в USD, float64. Уровень с остатком меньше эпсилона считается пустым.
const sizeEpsilon = 1e-9

// priceLevel - агрегированная ликвидность на одной цене.
// Ордера внутри уровня хранятся FIFO, но матчинг потребляет уровень
// как единый пул: приоритет у цены, не у времени.
type priceLevel struct {
	price  float64
	size   float64
	orders []*models.Order
}

// FillHandler вызывается под локом книги сразу после матчинга входящего
// ордера. Через него сделки атомарно доезжают до леджера позиций:
// никакой другой ордер не может сматчиться поверх непримененного матча.
type FillHandler func(order *models.Order, trades []*models.Trade) error

// OrderBook держит отстаивающуюся ликвидность одного рынка и исполняет
// пересекающиеся по цене матчи. Один экземпляр на рынок.
type OrderBook struct {
	market       models.Market
	takerFeeRate float64

	mu     sync.Mutex
	bids   []*priceLevel // цена по убыванию
	asks   []*priceLevel // цена по возрастанию
	orders map[string]*models.Order // все известные ордера, включая терминальные

	// STOP_LOSS / TAKE_PROFIT: хранятся, в матчинге не участвуют.
	// Вотчер триггеров не реализован.
	pendingTriggers map[string]*models.Order

	trades    []*models.Trade // журнал сделок, новые в конце
	lastPrice float64

	onFill FillHandler
}

// NewOrderBook создает книгу ордеров для рынка
func NewOrderBook(market models.Market, takerFeeRate float64) *OrderBook {
	return &OrderBook{
		market:          market,
		takerFeeRate:    takerFeeRate,
		orders:          make(map[string]*models.Order),
		pendingTriggers: make(map[string]*models.Order),
	}
}

// SetFillHandler устанавливает обработчик сделок (вызывается до старта торгов)
func (ob *OrderBook) SetFillHandler(h FillHandler) {
	ob.onFill = h
}

// AddOrder принимает ордер и возвращает исполненные сделки.
//
// MARKET матчится немедленно без проверки цены; неисполненный остаток
// отбрасывается (рыночные ордера не отстаиваются). LIMIT матчится
// до лимитной цены, остаток встаёт в книгу. STOP_LOSS / TAKE_PROFIT
// только сохраняются.
func (ob *OrderBook) AddOrder(order *models.Order) ([]*models.Trade, error) {
	start := time.Now()

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, exists := ob.orders[order.OrderID]; exists {
		return nil, fmt.Errorf("order %s already exists in %s book", order.OrderID, ob.market.Symbol)
	}
	ob.orders[order.OrderID] = order

	var trades []*models.Trade

	switch order.Type {
	case models.OrderTypeStopLoss, models.OrderTypeTakeProfit:
		order.Status = models.OrderStatusOpen
		ob.pendingTriggers[order.OrderID] = order

	case models.OrderTypeMarket:
		trades = ob.match(order, nil)
		if order.RemainingSize > sizeEpsilon {
			// Остаток рыночного ордера отбрасывается как отменённый
			if order.FilledSize > sizeEpsilon {
				order.Status = models.OrderStatusPartiallyFilled
			}
			if err := TransitionOrder(order, models.OrderStatusCancelled); err != nil {
				return nil, err
			}
		} else {
			order.Status = models.OrderStatusFilled
		}

	case models.OrderTypeLimit:
		trades = ob.match(order, order.Price)
		switch {
		case order.RemainingSize <= sizeEpsilon:
			order.Status = models.OrderStatusFilled
		case order.FilledSize > sizeEpsilon:
			order.Status = models.OrderStatusPartiallyFilled
			ob.rest(order)
		default:
			order.Status = models.OrderStatusOpen
			ob.rest(order)
		}

	default:
		delete(ob.orders, order.OrderID)
		return nil, fmt.Errorf("unsupported order type %s", order.Type)
	}

	ob.updateDepthMetrics()
	MatchLatency.WithLabelValues(ob.market.Symbol).Observe(float64(time.Since(start).Microseconds()) / 1000)

	// Сделки применяются к леджеру под локом книги: следующий ордер
	// увидит книгу и позиции в согласованном состоянии
	if ob.onFill != nil && len(trades) > 0 {
		if err := ob.onFill(order, trades); err != nil {
			return trades, err
		}
	}

	return trades, nil
}

// match исполняет ордер против противоположной стороны книги.
// limitPrice == nil означает рыночное исполнение без проверки цены.
func (ob *OrderBook) match(order *models.Order, limitPrice *float64) []*models.Trade {
	var trades []*models.Trade

	for order.RemainingSize > sizeEpsilon {
		level := ob.bestOpposite(order.Side)
		if level == nil {
			break
		}
		if limitPrice != nil && !priceCrosses(order.Side, level.price, *limitPrice) {
			break
		}

		tradeSize := order.RemainingSize
		if level.size < tradeSize {
			tradeSize = level.size
		}

		// Сделка проходит по цене уровня: улучшение цены достаётся
		// входящему (taker) ордеру
		trade := ob.makeTrade(order, level.price, tradeSize)
		trades = append(trades, trade)
		ob.trades = append(ob.trades, trade)
		ob.lastPrice = level.price

		order.FilledSize += tradeSize
		order.RemainingSize -= tradeSize

		ob.consumeLevel(level, tradeSize)

		RecordTrade(ob.market.Symbol, tradeSize)
	}

	return trades
}

// bestOpposite возвращает лучший уровень противоположной стороны
func (ob *OrderBook) bestOpposite(side string) *priceLevel {
	if side == models.SideLong {
		if len(ob.asks) == 0 {
			return nil
		}
		return ob.asks[0]
	}
	if len(ob.bids) == 0 {
		return nil
	}
	return ob.bids[0]
}

// priceCrosses проверяет пересекает ли лимитная цена уровень
func priceCrosses(side string, levelPrice, limitPrice float64) bool {
	if side == models.SideLong {
		return levelPrice <= limitPrice
	}
	return levelPrice >= limitPrice
}

// makeTrade создаёт запись сделки. Пассивная сторона - агрегат уровня,
// поэтому её контрагент помечается константами книги.
func (ob *OrderBook) makeTrade(order *models.Order, price, size float64) *models.Trade {
	trade := &models.Trade{
		TradeID:   uuid.NewString(),
		Market:    ob.market.Symbol,
		Price:     price,
		Size:      size,
		Side:      order.Side,
		Fee:       size * ob.takerFeeRate,
		Timestamp: time.Now(),
	}

	if order.Side == models.SideLong {
		trade.BuyOrderID = order.OrderID
		trade.Buyer = order.Trader
		trade.SellOrderID = models.MatchedOrderID
		trade.Seller = models.MatchedTrader
	} else {
		trade.SellOrderID = order.OrderID
		trade.Seller = order.Trader
		trade.BuyOrderID = models.MatchedOrderID
		trade.Buyer = models.MatchedTrader
	}

	return trade
}

// consumeLevel списывает размер с уровня и раскладывает исполнение
// по отстаивающимся ордерам FIFO. Уровень, дошедший до нуля, удаляется.
func (ob *OrderBook) consumeLevel(level *priceLevel, size float64) {
	level.size -= size

	remaining := size
	for remaining > sizeEpsilon && len(level.orders) > 0 {
		resting := level.orders[0]

		fill := resting.RemainingSize
		if fill > remaining {
			fill = remaining
		}
		resting.FilledSize += fill
		resting.RemainingSize -= fill
		remaining -= fill

		if resting.RemainingSize <= sizeEpsilon {
			resting.Status = models.OrderStatusFilled
			level.orders = level.orders[1:]
		} else {
			resting.Status = models.OrderStatusPartiallyFilled
		}
	}

	if level.size <= sizeEpsilon {
		ob.removeLevel(level.price)
	}
}

// rest ставит остаток лимитного ордера в книгу на его ценовой уровень
func (ob *OrderBook) rest(order *models.Order) {
	price := *order.Price

	if level := ob.findLevel(order.Side, price); level != nil {
		level.size += order.RemainingSize
		level.orders = append(level.orders, order)
		return
	}

	level := &priceLevel{
		price:  price,
		size:   order.RemainingSize,
		orders: []*models.Order{order},
	}

	if order.Side == models.SideLong {
		i := sort.Search(len(ob.bids), func(i int) bool { return ob.bids[i].price < price })
		ob.bids = append(ob.bids, nil)
		copy(ob.bids[i+1:], ob.bids[i:])
		ob.bids[i] = level
	} else {
		i := sort.Search(len(ob.asks), func(i int) bool { return ob.asks[i].price > price })
		ob.asks = append(ob.asks, nil)
		copy(ob.asks[i+1:], ob.asks[i:])
		ob.asks[i] = level
	}
}

// findLevel ищет уровень стороны по точной цене
func (ob *OrderBook) findLevel(side string, price float64) *priceLevel {
	levels := ob.asks
	if side == models.SideLong {
		levels = ob.bids
	}
	for _, l := range levels {
		if l.price == price {
			return l
		}
	}
	return nil
}

// removeLevel удаляет уровень с указанной ценой с обеих сторон
func (ob *OrderBook) removeLevel(price float64) {
	for i, l := range ob.bids {
		if l.price == price {
			ob.bids = append(ob.bids[:i], ob.bids[i+1:]...)
			return
		}
	}
	for i, l := range ob.asks {
		if l.price == price {
			ob.asks = append(ob.asks[:i], ob.asks[i+1:]...)
			return
		}
	}
}

// CancelOrder снимает остаток ордера с книги и помечает его CANCELLED.
//
// Неизвестный или уже терминальный ордер - no-op, возвращается false:
// повторная отмена не меняет состояние книги.
func (ob *OrderBook) CancelOrder(orderID string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, ok := ob.orders[orderID]
	if !ok || order.IsTerminal() {
		return false
	}

	if _, pending := ob.pendingTriggers[orderID]; pending {
		delete(ob.pendingTriggers, orderID)
		order.Status = models.OrderStatusCancelled
		return true
	}

	ob.unrest(order)
	order.Status = models.OrderStatusCancelled
	ob.updateDepthMetrics()
	return true
}

// unrest убирает остаток отстаивающегося ордера с его уровня
func (ob *OrderBook) unrest(order *models.Order) {
	if order.Price == nil {
		return
	}
	level := ob.findLevel(order.Side, *order.Price)
	if level == nil {
		return
	}

	for i, o := range level.orders {
		if o.OrderID == order.OrderID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			level.size -= order.RemainingSize
			break
		}
	}

	if level.size <= sizeEpsilon || len(level.orders) == 0 {
		ob.removeLevel(level.price)
	}
}

// ExpireOrders снимает с книги ордера с истёкшим сроком жизни.
// Возвращает количество истёкших ордеров.
func (ob *OrderBook) ExpireOrders(now time.Time) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	expired := 0

	var toExpire []*models.Order
	for _, side := range [][]*priceLevel{ob.bids, ob.asks} {
		for _, level := range side {
			for _, o := range level.orders {
				if o.IsExpiredAt(now) {
					toExpire = append(toExpire, o)
				}
			}
		}
	}
	for _, o := range toExpire {
		ob.unrest(o)
		o.Status = models.OrderStatusExpired
		expired++
	}

	for id, o := range ob.pendingTriggers {
		if o.IsExpiredAt(now) {
			delete(ob.pendingTriggers, id)
			o.Status = models.OrderStatusExpired
			expired++
		}
	}

	if expired > 0 {
		ob.updateDepthMetrics()
	}
	return expired
}

// GetOrderbook возвращает снимок верхних depth уровней каждой стороны
func (ob *OrderBook) GetOrderbook(depth int) *models.Orderbook {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	snapshot := &models.Orderbook{
		Market:    ob.market.Symbol,
		Bids:      copyLevels(ob.bids, depth),
		Asks:      copyLevels(ob.asks, depth),
		LastPrice: ob.lastPrice,
		Timestamp: time.Now(),
	}
	return snapshot
}

func copyLevels(levels []*priceLevel, depth int) []*models.OrderbookLevel {
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	out := make([]*models.OrderbookLevel, 0, depth)
	for _, l := range levels[:depth] {
		out = append(out, &models.OrderbookLevel{
			Price:  l.price,
			Size:   l.size,
			Orders: len(l.orders),
		})
	}
	return out
}

// GetOrder возвращает ордер по id
func (ob *OrderBook) GetOrder(orderID string) (*models.Order, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	o, ok := ob.orders[orderID]
	return o, ok
}

// GetTraderOrders возвращает ордера трейдера, новые первыми.
// activeOnly ограничивает выборку живыми статусами.
func (ob *OrderBook) GetTraderOrders(trader string, activeOnly bool) []*models.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var out []*models.Order
	for _, o := range ob.orders {
		if o.Trader != trader {
			continue
		}
		if activeOnly && !o.IsActive() {
			continue
		}
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// GetRecentTrades возвращает последние limit сделок, новые первыми
func (ob *OrderBook) GetRecentTrades(limit int) []*models.Trade {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if limit <= 0 || limit > len(ob.trades) {
		limit = len(ob.trades)
	}

	out := make([]*models.Trade, 0, limit)
	for i := len(ob.trades) - 1; i >= len(ob.trades)-limit; i-- {
		out = append(out, ob.trades[i])
	}
	return out
}

// LastPrice возвращает цену последней сделки (0 если сделок не было)
func (ob *OrderBook) LastPrice() float64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.lastPrice
}

// SeedLiquidity наполняет книгу синтетической ликвидностью вокруг
// midPrice: levelsPerSide уровней с шагом ~5 б.п. на сторону.
// Используется при старте рынка, пока реальных мейкеров нет.
func (ob *OrderBook) SeedLiquidity(midPrice float64, levelsPerSide int, sizePerLevel float64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for i := 1; i <= levelsPerSide; i++ {
		offset := midPrice * 0.0005 * float64(i)

		askPrice := utils.RoundToTickSize(midPrice+offset, ob.market.TickSize)
		bidPrice := utils.RoundToTickSize(midPrice-offset, ob.market.TickSize)

		ob.rest(ob.syntheticOrder(models.SideShort, askPrice, sizePerLevel))
		ob.rest(ob.syntheticOrder(models.SideLong, bidPrice, sizePerLevel))
	}

	ob.updateDepthMetrics()
}

// syntheticOrder создаёт отстаивающийся ордер от имени агрегата книги
func (ob *OrderBook) syntheticOrder(side string, price, size float64) *models.Order {
	p := price
	order := &models.Order{
		OrderID:       uuid.NewString(),
		Trader:        models.MatchedTrader,
		Market:        ob.market.Symbol,
		Side:          side,
		Type:          models.OrderTypeLimit,
		Size:          size,
		Price:         &p,
		Leverage:      1,
		MarginType:    models.MarginTypeCross,
		Status:        models.OrderStatusOpen,
		RemainingSize: size,
		Timestamp:     time.Now(),
	}
	ob.orders[order.OrderID] = order
	return order
}

// updateDepthMetrics публикует глубину книги. Вызывается под локом.
func (ob *OrderBook) updateDepthMetrics() {
	UpdateBookDepth(ob.market.Symbol, len(ob.bids), len(ob.asks))
}
