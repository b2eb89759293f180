package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpdex/internal/models"
	"perpdex/pkg/utils"
)

// Ошибки леджера
var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidPercentage   = errors.New("percentage must be in (0, 100]")
)

// LedgerConfig - риск-параметры и комиссии леджера
type LedgerConfig struct {
	TakerFeeRate           float64
	LiquidationFeeRate     float64
	MaintenanceMarginRatio float64
	LiquidationBuffer      float64
}

// PositionLedger переводит сделки в позиции, ведёт маржу и PnL,
// обслуживает депозиты и выводы.
//
// Один мьютекс на весь леджер; порядок захвата всегда книга -> леджер,
// поэтому дедлок между матчингом и ликвидациями исключён.
type PositionLedger struct {
	cfg LedgerConfig

	mu        sync.Mutex
	balances  map[string]*models.TraderBalance
	positions map[string]*models.Position
	holds     map[string]marginHold
}

// marginHold - удержание свободного баланса под принимаемый ордер,
// ключ - id ордера
type marginHold struct {
	trader string
	amount float64
}

// NewPositionLedger создает пустой леджер
func NewPositionLedger(cfg LedgerConfig) *PositionLedger {
	return &PositionLedger{
		cfg:       cfg,
		balances:  make(map[string]*models.TraderBalance),
		positions: make(map[string]*models.Position),
		holds:     make(map[string]marginHold),
	}
}

// ReserveMargin удерживает amount со свободного баланса под ордер.
// Удержанные средства недоступны выводу и другим ордерам до
// ReleaseMargin или применения сделок ордера.
func (pl *PositionLedger) ReserveMargin(orderID, trader string, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	balance := pl.balanceLocked(trader)
	if balance.AvailableBalance < amount {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, amount, balance.AvailableBalance)
	}
	balance.AvailableBalance -= amount
	pl.holds[orderID] = marginHold{trader: trader, amount: amount}
	return nil
}

// ReleaseMargin возвращает непотреблённое удержание ордера в свободный
// баланс. Неизвестное или уже потреблённое удержание - no-op.
func (pl *PositionLedger) ReleaseMargin(orderID string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.releaseHoldLocked(orderID)
}

func (pl *PositionLedger) releaseHoldLocked(orderID string) {
	hold, ok := pl.holds[orderID]
	if !ok {
		return
	}
	delete(pl.holds, orderID)
	pl.balanceLocked(hold.trader).AvailableBalance += hold.amount
}

// ApplyFill применяет сделки входящего ордера к позициям его трейдера.
// Вызывается книгой под её локом через FillHandler.
//
// Сделка на стороне существующей позиции сливается в неё по
// средневзвешенной цене входа. Сделка против позиции сначала
// сокращает/закрывает её, остаток открывает новую позицию.
func (pl *PositionLedger) ApplyFill(order *models.Order, trades []*models.Trade) error {
	if order.Trader == models.MatchedTrader {
		return nil
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	// Удержание ордера возвращается в свободный баланс под этим же
	// локом: маржа и комиссии сделок списываются из тех же средств,
	// и цепочка applyTradeLocked не упирается в нехватку на полпути
	pl.releaseHoldLocked(order.OrderID)

	for _, trade := range trades {
		if err := pl.applyTradeLocked(order, trade); err != nil {
			return fmt.Errorf("apply trade %s: %w", trade.TradeID, err)
		}
	}
	return nil
}

func (pl *PositionLedger) applyTradeLocked(order *models.Order, trade *models.Trade) error {
	existing := pl.findPositionLocked(order.Trader, order.Market)

	// Нет позиции - открываем новую
	if existing == nil {
		_, err := pl.openLocked(order.Trader, order.Market, order.Side,
			trade.Size, trade.Price, order.Leverage, order.MarginType, trade.Fee)
		return err
	}

	// Одноимённая сторона - слияние
	if existing.Side == order.Side {
		return pl.mergeLocked(existing, trade, order.Leverage)
	}

	// Противоположная сторона - сначала сокращаем существующую
	closeSize := trade.Size
	if closeSize > existing.Size {
		closeSize = existing.Size
	}
	percentage := closeSize / existing.Size * 100

	if _, _, err := pl.closeLocked(existing, trade.Price, percentage, pl.cfg.TakerFeeRate); err != nil {
		return err
	}

	// Остаток открывает позицию на стороне входящего ордера
	leftover := trade.Size - closeSize
	if leftover > sizeEpsilon {
		leftoverFee := trade.Fee * leftover / trade.Size
		_, err := pl.openLocked(order.Trader, order.Market, order.Side,
			leftover, trade.Price, order.Leverage, order.MarginType, leftoverFee)
		return err
	}
	return nil
}

// OpenPosition открывает позицию, резервируя margin = size / leverage
func (pl *PositionLedger) OpenPosition(trader, market, side string, size, entryPrice float64, leverage int, marginType string) (*models.Position, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.openLocked(trader, market, side, size, entryPrice, leverage, marginType, 0)
}

func (pl *PositionLedger) openLocked(trader, market, side string, size, entryPrice float64, leverage int, marginType string, fee float64) (*models.Position, error) {
	margin := size / float64(leverage)

	balance := pl.balanceLocked(trader)
	if balance.AvailableBalance < margin+fee {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, margin+fee, balance.AvailableBalance)
	}

	balance.AvailableBalance -= margin
	balance.UsedMargin += margin
	pl.chargeFeeLocked(balance, fee)

	position := &models.Position{
		PositionID:       uuid.NewString(),
		Trader:           trader,
		Market:           market,
		Side:             side,
		Size:             size,
		EntryPrice:       entryPrice,
		CurrentPrice:     entryPrice,
		Leverage:         leverage,
		MarginType:       marginType,
		Margin:           margin,
		LiquidationPrice: pl.liquidationPrice(side, entryPrice, margin, size),
		Fee:              fee,
		Timestamp:        time.Now(),
	}
	pl.positions[position.PositionID] = position

	OpenPositions.WithLabelValues(market).Inc()
	OpenInterest.WithLabelValues(market).Add(size)

	return position, nil
}

// mergeLocked вливает сделку в одноимённую позицию: средневзвешенная
// цена входа, маржа добавляется, цена ликвидации пересчитывается
// от эффективного плеча size/margin.
func (pl *PositionLedger) mergeLocked(position *models.Position, trade *models.Trade, leverage int) error {
	addedMargin := trade.Size / float64(leverage)

	balance := pl.balanceLocked(position.Trader)
	if balance.AvailableBalance < addedMargin+trade.Fee {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, addedMargin+trade.Fee, balance.AvailableBalance)
	}

	balance.AvailableBalance -= addedMargin
	balance.UsedMargin += addedMargin
	pl.chargeFeeLocked(balance, trade.Fee)

	position.EntryPrice = utils.WeightedAverage(position.EntryPrice, position.Size, trade.Price, trade.Size)
	position.Size += trade.Size
	position.Margin += addedMargin
	position.Fee += trade.Fee
	position.LiquidationPrice = pl.liquidationPrice(position.Side, position.EntryPrice, position.Margin, position.Size)
	pl.markLocked(position, trade.Price)

	OpenInterest.WithLabelValues(position.Market).Add(trade.Size)

	return nil
}

// ClosePosition закрывает позицию (полностью или частично) по exitPrice.
// Возвращает снимок позиции и реализованный PnL до вычета комиссии.
func (pl *PositionLedger) ClosePosition(positionID string, exitPrice, percentage float64) (*models.Position, float64, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	position, ok := pl.positions[positionID]
	if !ok {
		return nil, 0, ErrPositionNotFound
	}
	return pl.closeLocked(position, exitPrice, percentage, pl.cfg.TakerFeeRate)
}

// Liquidate принудительно закрывает позицию целиком по currentPrice
// с ликвидационной комиссией вместо taker fee
func (pl *PositionLedger) Liquidate(positionID string, currentPrice float64) (*models.Position, float64, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	position, ok := pl.positions[positionID]
	if !ok {
		return nil, 0, ErrPositionNotFound
	}
	return pl.closeLocked(position, currentPrice, 100, pl.cfg.LiquidationFeeRate)
}

func (pl *PositionLedger) closeLocked(position *models.Position, exitPrice, percentage, feeRate float64) (*models.Position, float64, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, 0, ErrInvalidPercentage
	}

	fraction := percentage / 100
	closingSize := position.Size * fraction

	pnl := (exitPrice - position.EntryPrice) * position.SideSign() * closingSize / position.EntryPrice
	fee := closingSize * feeRate

	releasedMargin := position.Margin * fraction

	balance := pl.balanceLocked(position.Trader)
	balance.AvailableBalance += releasedMargin
	balance.UsedMargin -= releasedMargin

	// Реализованный результат за вычетом комиссии
	net := pnl - fee
	balance.AvailableBalance += net
	balance.TotalBalance += net
	balance.TotalPnl += pnl

	OpenInterest.WithLabelValues(position.Market).Sub(closingSize)

	snapshot := *position
	snapshot.CurrentPrice = exitPrice
	snapshot.Pnl = pnl
	if releasedMargin > 0 {
		snapshot.PnlPercentage = pnl / releasedMargin * 100
	}

	if percentage == 100 || position.Size-closingSize <= sizeEpsilon {
		delete(pl.positions, position.PositionID)
		OpenPositions.WithLabelValues(position.Market).Dec()
		snapshot.Size = 0
		snapshot.Margin = 0
		return &snapshot, pnl, nil
	}

	position.Size -= closingSize
	position.Margin -= releasedMargin
	position.Fee += fee
	pl.markLocked(position, exitPrice)

	snapshot.Size = position.Size
	snapshot.Margin = position.Margin
	return &snapshot, pnl, nil
}

// UpdatePositionPrice пересчитывает PnL позиции по новой цене
func (pl *PositionLedger) UpdatePositionPrice(positionID string, currentPrice float64) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	position, ok := pl.positions[positionID]
	if !ok {
		return ErrPositionNotFound
	}
	pl.markLocked(position, currentPrice)
	return nil
}

// UpdateMarketPrice пересчитывает PnL всех открытых позиций рынка.
// Вызывается ценовым фидом на каждом тике.
func (pl *PositionLedger) UpdateMarketPrice(market string, currentPrice float64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for _, position := range pl.positions {
		if position.Market == market {
			pl.markLocked(position, currentPrice)
		}
	}
}

// markLocked обновляет текущую цену и нереализованный PnL позиции
func (pl *PositionLedger) markLocked(position *models.Position, price float64) {
	position.CurrentPrice = price
	position.Pnl = (price - position.EntryPrice) * position.SideSign() * position.Size / position.EntryPrice
	if position.Margin > 0 {
		position.PnlPercentage = position.Pnl / position.Margin * 100
	}
}

// UpdatePositionLimits перезаписывает стоп-лосс / тейк-профит позиции
func (pl *PositionLedger) UpdatePositionLimits(positionID string, stopLoss, takeProfit *float64) (*models.Position, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	position, ok := pl.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if stopLoss != nil {
		position.StopLoss = stopLoss
	}
	if takeProfit != nil {
		position.TakeProfit = takeProfit
	}

	snapshot := *position
	return &snapshot, nil
}

// Deposit зачисляет amount на баланс трейдера
func (pl *PositionLedger) Deposit(trader string, amount float64) (*models.TraderBalance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	balance := pl.balanceLocked(trader)
	balance.TotalBalance += amount
	balance.AvailableBalance += amount

	snapshot := *balance
	return &snapshot, nil
}

// Withdraw списывает amount со свободного баланса трейдера.
// Вывод, уводящий availableBalance в минус, отклоняется.
func (pl *PositionLedger) Withdraw(trader string, amount float64) (*models.TraderBalance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	balance := pl.balanceLocked(trader)
	if balance.AvailableBalance < amount {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, amount, balance.AvailableBalance)
	}
	balance.TotalBalance -= amount
	balance.AvailableBalance -= amount

	snapshot := *balance
	return &snapshot, nil
}

// GetBalance возвращает баланс трейдера, лениво создавая нулевую запись.
// Нереализованный PnL пересчитывается по открытым позициям.
func (pl *PositionLedger) GetBalance(trader string) *models.TraderBalance {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	balance := pl.balanceLocked(trader)

	unrealized := 0.0
	for _, position := range pl.positions {
		if position.Trader == trader {
			unrealized += position.Pnl
		}
	}
	balance.UnrealizedPnl = unrealized

	snapshot := *balance
	return &snapshot
}

// GetPosition возвращает снимок позиции по id
func (pl *PositionLedger) GetPosition(positionID string) (*models.Position, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	position, ok := pl.positions[positionID]
	if !ok {
		return nil, false
	}
	snapshot := *position
	return &snapshot, true
}

// GetTraderPositions возвращает открытые позиции трейдера,
// опционально отфильтрованные по рынку
func (pl *PositionLedger) GetTraderPositions(trader, market string) []*models.Position {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var out []*models.Position
	for _, position := range pl.positions {
		if position.Trader != trader {
			continue
		}
		if market != "" && position.Market != market {
			continue
		}
		snapshot := *position
		out = append(out, &snapshot)
	}
	return out
}

// OpenPositionsSnapshot возвращает снимок всех открытых позиций.
// Используется монитором ликвидаций.
func (pl *PositionLedger) OpenPositionsSnapshot() []*models.Position {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	out := make([]*models.Position, 0, len(pl.positions))
	for _, position := range pl.positions {
		snapshot := *position
		out = append(out, &snapshot)
	}
	return out
}

// findPositionLocked ищет позицию трейдера в рынке.
// Слияние одноимённых сторон и закрытие-перед-открытием гарантируют
// не больше одной позиции на (trader, market).
func (pl *PositionLedger) findPositionLocked(trader, market string) *models.Position {
	for _, position := range pl.positions {
		if position.Trader == trader && position.Market == market {
			return position
		}
	}
	return nil
}

// balanceLocked лениво создаёт нулевой баланс трейдера
func (pl *PositionLedger) balanceLocked(trader string) *models.TraderBalance {
	balance, ok := pl.balances[trader]
	if !ok {
		balance = &models.TraderBalance{Trader: trader}
		pl.balances[trader] = balance
	}
	return balance
}

// chargeFeeLocked списывает комиссию с баланса
func (pl *PositionLedger) chargeFeeLocked(balance *models.TraderBalance, fee float64) {
	if fee == 0 {
		return
	}
	balance.AvailableBalance -= fee
	balance.TotalBalance -= fee
}

// liquidationPrice считает цену ликвидации.
//
// liqFraction = margin/size - maintenanceMarginRatio - liquidationBuffer
// (margin/size эквивалентен 1/leverage и корректен для слитых позиций
// с эффективным плечом).
func (pl *PositionLedger) liquidationPrice(side string, entryPrice, margin, size float64) float64 {
	liqFraction := margin/size - pl.cfg.MaintenanceMarginRatio - pl.cfg.LiquidationBuffer
	if side == models.SideLong {
		return entryPrice * (1 - liqFraction)
	}
	return entryPrice * (1 + liqFraction)
}
