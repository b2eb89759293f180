package engine

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"perpdex/internal/models"
	"perpdex/internal/oracle"
	"perpdex/pkg/logger"
)

// Максимальный шаг симулятора: ±0.1% за тик
const simulatedWalkRange = 0.002

// marketState - ценовое состояние одного рынка
type marketState struct {
	market models.Market

	mu          sync.RWMutex
	data        models.MarketData
	sessionOpen float64 // первая цена сессии, база для change24h в симуляции
	hasPrice    bool
}

// PriceFeed держит актуальную цену и скользящую 24ч статистику по
// каждому рынку. Источник - внешний оракул; при любом сбое фид
// падает в детерминированное случайное блуждание от последней цены.
//
// Фид никогда не блокирует матчинг: GetPrice отдаёт кэш (0, если
// рынок ещё ни разу не был оценён).
type PriceFeed struct {
	markets map[string]*marketState
	symbols []string // стабильный порядок обхода

	client      *oracle.Client // nil = только симуляция
	ledger      *PositionLedger
	broadcaster Broadcaster
	interval    time.Duration
	log         *logger.Logger

	rng *rand.Rand
}

// NewPriceFeed создает фид для набора рынков
func NewPriceFeed(markets []models.Market, client *oracle.Client, ledger *PositionLedger, broadcaster Broadcaster, interval time.Duration, log *logger.Logger) *PriceFeed {
	if log == nil {
		log = logger.Nop()
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}

	feed := &PriceFeed{
		markets:     make(map[string]*marketState, len(markets)),
		client:      client,
		ledger:      ledger,
		broadcaster: broadcaster,
		interval:    interval,
		log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, m := range markets {
		feed.markets[m.Symbol] = &marketState{market: m}
		feed.symbols = append(feed.symbols, m.Symbol)
	}
	sort.Strings(feed.symbols)

	return feed
}

// Run крутит цикл обновления цен до отмены контекста
func (pf *PriceFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(pf.interval)
	defer ticker.Stop()

	pf.log.Info("price feed started",
		zap.Duration("interval", pf.interval),
		zap.Int("markets", len(pf.markets)),
	)

	for {
		select {
		case <-ctx.Done():
			pf.log.Info("price feed stopped")
			return
		case <-ticker.C:
			pf.UpdateAll(ctx)
		}
	}
}

// UpdateAll обновляет цены всех рынков за один тик
func (pf *PriceFeed) UpdateAll(ctx context.Context) {
	for _, symbol := range pf.symbols {
		state := pf.markets[symbol]
		pf.updateMarket(ctx, state)
	}
}

// updateMarket обновляет один рынок: оракул либо симулятор
func (pf *PriceFeed) updateMarket(ctx context.Context, state *marketState) {
	var data models.MarketData

	fetched := false
	if pf.client != nil {
		ticker, err := pf.client.FetchTicker(ctx, state.market.Symbol)
		if err == nil {
			data = pf.applyOracle(state, ticker)
			fetched = true
		} else {
			// Сбой оракула наружу не выносится: симулятор подхватит
			pf.log.Debug("oracle fetch failed, falling back to simulation",
				zap.String("market", state.market.Symbol),
				zap.Error(err),
			)
		}
	}

	if !fetched {
		data = pf.applySimulated(state)
		OracleFallbacks.WithLabelValues(state.market.Symbol).Inc()
	}

	UpdateMarkPrice(state.market.Symbol, data.Price)

	if pf.ledger != nil {
		pf.ledger.UpdateMarketPrice(state.market.Symbol, data.Price)
	}
	pf.broadcaster.BroadcastTicker(&data)
}

// applyOracle записывает данные оракула в состояние рынка
func (pf *PriceFeed) applyOracle(state *marketState, ticker *oracle.Ticker) models.MarketData {
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.hasPrice {
		state.sessionOpen = ticker.LastPrice
		state.hasPrice = true
	}

	state.data = models.MarketData{
		Market:       state.market.Symbol,
		Price:        ticker.LastPrice,
		Change24h:    ticker.PriceChange24,
		High24h:      ticker.HighPrice24h,
		Low24h:       ticker.LowPrice24h,
		Volume24h:    ticker.Volume24h,
		IndexPrice:   ticker.LastPrice,
		FundingRate:  state.data.FundingRate,
		OpenInterest: state.data.OpenInterest,
		Timestamp:    time.Now().UnixMilli(),
	}
	return state.data
}

// applySimulated делает один шаг случайного блуждания:
// price * (1 + (rand - 0.5) * 0.002), то есть ±0.1% за тик.
// Стартовая точка - последняя известная цена либо базовая цена рынка.
func (pf *PriceFeed) applySimulated(state *marketState) models.MarketData {
	state.mu.Lock()
	defer state.mu.Unlock()

	last := state.data.Price
	if !state.hasPrice {
		last = state.market.BasePrice
		state.sessionOpen = last
		state.hasPrice = true
	}

	price := last * (1 + (pf.rng.Float64()-0.5)*simulatedWalkRange)

	high := state.data.High24h
	low := state.data.Low24h
	if high == 0 || price > high {
		high = price
	}
	if low == 0 || price < low {
		low = price
	}

	change := 0.0
	if state.sessionOpen > 0 {
		change = (price - state.sessionOpen) / state.sessionOpen * 100
	}

	state.data = models.MarketData{
		Market:       state.market.Symbol,
		Price:        price,
		Change24h:    change,
		High24h:      high,
		Low24h:       low,
		Volume24h:    state.data.Volume24h,
		IndexPrice:   price,
		FundingRate:  state.data.FundingRate,
		OpenInterest: state.data.OpenInterest,
		Timestamp:    time.Now().UnixMilli(),
	}
	return state.data
}

// GetPrice возвращает последнюю цену рынка или 0, если рынок
// ещё ни разу не был оценён (в том числе для неизвестного рынка)
func (pf *PriceFeed) GetPrice(market string) float64 {
	state, ok := pf.markets[market]
	if !ok {
		return 0
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.data.Price
}

// GetMarketData возвращает снимок рыночных данных
func (pf *PriceFeed) GetMarketData(market string) (*models.MarketData, bool) {
	state, ok := pf.markets[market]
	if !ok {
		return nil, false
	}
	state.mu.RLock()
	defer state.mu.RUnlock()

	data := state.data
	if data.Market == "" {
		data.Market = market
	}
	return &data, true
}

// GetAllMarkets возвращает снимки всех рынков в алфавитном порядке
func (pf *PriceFeed) GetAllMarkets() []*models.MarketData {
	out := make([]*models.MarketData, 0, len(pf.symbols))
	for _, symbol := range pf.symbols {
		data, _ := pf.GetMarketData(symbol)
		out = append(out, data)
	}
	return out
}

// HasMarket проверяет сконфигурирован ли рынок
func (pf *PriceFeed) HasMarket(market string) bool {
	_, ok := pf.markets[market]
	return ok
}

// Market возвращает конфигурацию рынка
func (pf *PriceFeed) Market(symbol string) (models.Market, bool) {
	state, ok := pf.markets[symbol]
	if !ok {
		return models.Market{}, false
	}
	return state.market, true
}
