package service

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"perpdex/internal/config"
	"perpdex/internal/engine"
	"perpdex/internal/models"
	"perpdex/internal/signature"
	"perpdex/pkg/logger"
	"perpdex/pkg/utils"
)

// Глубина книги по умолчанию в ответах API
const DefaultOrderbookDepth = 20

// Лимит выдачи сделок по умолчанию
const DefaultTradesLimit = 50

// CreateOrderParams - параметры создания ордера.
// OrderID выбирает клиент: он входит в подписываемое сообщение,
// сервер не может подменить подписанное поле.
type CreateOrderParams struct {
	OrderID      string
	Trader       string
	Market       string
	Side         string
	Type         string
	Size         float64
	Price        *float64
	TriggerPrice *float64
	Leverage     int
	MarginType   string
	Signature    string
}

// CreateOrderResult - ордер и исполненные при приёме сделки
type CreateOrderResult struct {
	Order  *models.Order   `json:"order"`
	Trades []*models.Trade `json:"trades"`
}

// SignatureVerifier проверяет подпись сообщения против адреса
type SignatureVerifier interface {
	Verify(message, sigHex, expectedAddress string) bool
}

// TradingService - оркестратор биржи: валидирует запросы, проверяет
// подписи, маршрутизирует в книги и леджер, собирает ответы.
type TradingService struct {
	cfg      config.TradingConfig
	books    map[string]*engine.OrderBook
	ledger   *engine.PositionLedger
	feed     *engine.PriceFeed
	monitor  *engine.LiquidationMonitor
	verifier SignatureVerifier

	broadcaster engine.Broadcaster
	log         *logger.Logger
}

// NewTradingService создает сервис и подключает книги к леджеру:
// сделки применяются к позициям под локом книги (матчинг атомарен
// относительно состояния леджера).
func NewTradingService(
	cfg config.TradingConfig,
	books map[string]*engine.OrderBook,
	ledger *engine.PositionLedger,
	feed *engine.PriceFeed,
	monitor *engine.LiquidationMonitor,
	verifier SignatureVerifier,
	broadcaster engine.Broadcaster,
	log *logger.Logger,
) *TradingService {
	if log == nil {
		log = logger.Nop()
	}
	if broadcaster == nil {
		broadcaster = engine.NopBroadcaster{}
	}

	s := &TradingService{
		cfg:         cfg,
		books:       books,
		ledger:      ledger,
		feed:        feed,
		monitor:     monitor,
		verifier:    verifier,
		broadcaster: broadcaster,
		log:         log,
	}

	for _, book := range books {
		book.SetFillHandler(ledger.ApplyFill)
	}

	return s
}

// CreateOrder валидирует, авторизует и исполняет новый ордер
func (s *TradingService) CreateOrder(params CreateOrderParams) (*CreateOrderResult, error) {
	book, err := s.validateOrderParams(&params)
	if err != nil {
		return nil, err
	}

	trader := utils.NormalizeAddress(params.Trader)

	msg := signature.OrderMessage(params.OrderID, trader, params.Market,
		params.Side, params.Size, params.Price, params.Leverage)
	if !s.verifier.Verify(msg, params.Signature, trader) {
		engine.RecordRejection("invalid_signature")
		return nil, ErrInvalidSignature
	}

	// Маржа и расчётная taker-комиссия удерживаются до матчинга:
	// между проверкой баланса и применением сделок эти средства
	// недоступны ни выводу, ни ордерам других рынков
	hold := params.Size/float64(params.Leverage) + params.Size*s.cfg.TakerFeeRate
	if err := s.ledger.ReserveMargin(params.OrderID, trader, hold); err != nil {
		engine.RecordRejection("balance")
		return nil, s.mapLedgerError(err)
	}

	order := s.buildOrder(&params, trader)

	trades, err := book.AddOrder(order)

	// Не потреблённое матчингом удержание возвращается: отстоявшийся
	// лимитный ордер и отклонённый ордер средства не держат
	s.ledger.ReleaseMargin(params.OrderID)

	if err != nil {
		s.log.Error("order matching failed",
			zap.String("order_id", order.OrderID),
			zap.String("market", order.Market),
			zap.Error(err),
		)
		return nil, err
	}

	engine.RecordOrder(order.Market, order.Side, order.Type)

	s.log.Info("order accepted",
		zap.String("order_id", order.OrderID),
		zap.String("trader", trader),
		zap.String("market", order.Market),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.Float64("size", order.Size),
		zap.Int("trades", len(trades)),
	)

	s.broadcaster.BroadcastOrder(order)
	for _, trade := range trades {
		s.broadcaster.BroadcastTrade(trade)
	}
	if len(trades) > 0 {
		s.broadcaster.BroadcastOrderbook(book.GetOrderbook(DefaultOrderbookDepth))
	}

	return &CreateOrderResult{Order: order, Trades: trades}, nil
}

// validateOrderParams проверяет параметры и возвращает книгу рынка
func (s *TradingService) validateOrderParams(params *CreateOrderParams) (*engine.OrderBook, error) {
	if params.OrderID == "" {
		return nil, ErrOrderIDRequired
	}
	if err := utils.ValidateAddress(params.Trader); err != nil {
		return nil, err
	}

	book, ok := s.books[params.Market]
	if !ok {
		engine.RecordRejection("market")
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, params.Market)
	}

	if params.Side != models.SideLong && params.Side != models.SideShort {
		return nil, ErrInvalidSide
	}

	switch params.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if params.Price == nil || *params.Price <= 0 {
			return nil, ErrPriceRequired
		}
	case models.OrderTypeStopLoss, models.OrderTypeTakeProfit:
		if params.TriggerPrice == nil || *params.TriggerPrice <= 0 {
			return nil, ErrTriggerPriceRequired
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOrderType, params.Type)
	}

	if params.MarginType == "" {
		params.MarginType = models.MarginTypeIsolated
	}
	if params.MarginType != models.MarginTypeIsolated && params.MarginType != models.MarginTypeCross {
		return nil, ErrInvalidMarginType
	}

	if params.Size < s.cfg.MinOrderSize || params.Size > s.cfg.MaxOrderSize {
		engine.RecordRejection("size_limit")
		return nil, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]",
			ErrInvalidSize, params.Size, s.cfg.MinOrderSize, s.cfg.MaxOrderSize)
	}

	market, _ := s.feed.Market(params.Market)
	if params.Leverage < 1 || params.Leverage > market.MaxLeverage {
		engine.RecordRejection("leverage")
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidLeverage, params.Leverage, market.MaxLeverage)
	}

	return book, nil
}

// buildOrder собирает модель ордера из проверенных параметров
func (s *TradingService) buildOrder(params *CreateOrderParams, trader string) *models.Order {
	order := &models.Order{
		OrderID:       params.OrderID,
		Trader:        trader,
		Market:        params.Market,
		Side:          params.Side,
		Type:          params.Type,
		Size:          params.Size,
		TriggerPrice:  params.TriggerPrice,
		Leverage:      params.Leverage,
		MarginType:    params.MarginType,
		Status:        models.OrderStatusPending,
		RemainingSize: params.Size,
		Signature:     params.Signature,
		Timestamp:     time.Now(),
	}

	if params.Price != nil {
		market, _ := s.feed.Market(params.Market)
		rounded := utils.RoundToTickSize(*params.Price, market.TickSize)
		order.Price = &rounded
	}

	// Лимитные ордера живут ограниченный срок; рыночные исполняются сразу
	if params.Type == models.OrderTypeLimit && s.cfg.OrderExpiry > 0 {
		expiresAt := order.Timestamp.Add(s.cfg.OrderExpiry)
		order.ExpiresAt = &expiresAt
	}

	return order
}

// CancelOrder снимает ордер с книги после проверки подписи и владельца.
// Повторная отмена и отмена терминального ордера возвращают false.
func (s *TradingService) CancelOrder(orderID, trader, sig string) (bool, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return false, err
	}
	trader = utils.NormalizeAddress(trader)

	if !s.verifier.Verify(signature.CancelMessage(orderID), sig, trader) {
		engine.RecordRejection("invalid_signature")
		return false, ErrInvalidSignature
	}

	for _, book := range s.books {
		order, ok := book.GetOrder(orderID)
		if !ok {
			continue
		}
		if order.Trader != trader {
			return false, ErrNotOwner
		}

		cancelled := book.CancelOrder(orderID)
		if cancelled {
			s.log.Info("order cancelled",
				zap.String("order_id", orderID),
				zap.String("trader", trader),
			)
			s.broadcaster.BroadcastOrder(order)
		}
		return cancelled, nil
	}

	// Неизвестный ордер - false без ошибки, отмена идемпотентна
	return false, nil
}

// ClosePosition закрывает позицию (полностью или частично) по текущей
// цене рынка. Подпись строится над id позиции тем же каноном, что отмена.
func (s *TradingService) ClosePosition(positionID, trader string, percentage float64, sig string) (*models.Position, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	trader = utils.NormalizeAddress(trader)

	position, ok := s.ledger.GetPosition(positionID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	if position.Trader != trader {
		return nil, ErrNotOwner
	}

	if !s.verifier.Verify(signature.CancelMessage(positionID), sig, trader) {
		engine.RecordRejection("invalid_signature")
		return nil, ErrInvalidSignature
	}

	if percentage == 0 {
		percentage = 100
	}

	exitPrice := s.feed.GetPrice(position.Market)
	if exitPrice == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, position.Market)
	}

	closed, pnl, err := s.ledger.ClosePosition(positionID, exitPrice, percentage)
	if err != nil {
		return nil, s.mapLedgerError(err)
	}

	s.log.Info("position closed",
		zap.String("position_id", positionID),
		zap.String("trader", trader),
		zap.Float64("percentage", percentage),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl),
	)

	return closed, nil
}

// UpdatePosition перезаписывает стоп-лосс / тейк-профит позиции.
// Триггеры хранятся, автоматического срабатывания нет.
func (s *TradingService) UpdatePosition(positionID, trader string, stopLoss, takeProfit *float64) (*models.Position, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	trader = utils.NormalizeAddress(trader)

	position, ok := s.ledger.GetPosition(positionID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	if position.Trader != trader {
		return nil, ErrNotOwner
	}

	updated, err := s.ledger.UpdatePositionLimits(positionID, stopLoss, takeProfit)
	if err != nil {
		return nil, s.mapLedgerError(err)
	}
	return updated, nil
}

// Deposit зачисляет маржу на баланс трейдера
func (s *TradingService) Deposit(trader string, amount float64) (*models.TraderBalance, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	balance, err := s.ledger.Deposit(utils.NormalizeAddress(trader), amount)
	if err != nil {
		return nil, s.mapLedgerError(err)
	}

	s.log.Info("margin deposited",
		zap.String("trader", trader),
		zap.Float64("amount", amount),
	)
	return balance, nil
}

// Withdraw списывает маржу со свободного баланса после проверки подписи
func (s *TradingService) Withdraw(trader string, amount float64, nonce, sig string) (*models.TraderBalance, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	trader = utils.NormalizeAddress(trader)

	if !s.verifier.Verify(signature.WithdrawMessage(trader, amount, nonce), sig, trader) {
		engine.RecordRejection("invalid_signature")
		return nil, ErrInvalidSignature
	}

	balance, err := s.ledger.Withdraw(trader, amount)
	if err != nil {
		return nil, s.mapLedgerError(err)
	}

	s.log.Info("margin withdrawn",
		zap.String("trader", trader),
		zap.Float64("amount", amount),
	)
	return balance, nil
}

// GetOrderbook возвращает верхние depth уровней книги рынка
func (s *TradingService) GetOrderbook(market string, depth int) (*models.Orderbook, error) {
	book, ok := s.books[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	if depth <= 0 {
		depth = DefaultOrderbookDepth
	}
	return book.GetOrderbook(depth), nil
}

// GetMarketData возвращает рыночные данные одного контракта
func (s *TradingService) GetMarketData(market string) (*models.MarketData, error) {
	data, ok := s.feed.GetMarketData(market)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	return data, nil
}

// GetAllMarkets возвращает данные всех рынков
func (s *TradingService) GetAllMarkets() []*models.MarketData {
	return s.feed.GetAllMarkets()
}

// GetBalance возвращает баланс трейдера (лениво создаётся нулевым)
func (s *TradingService) GetBalance(trader string) (*models.TraderBalance, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	return s.ledger.GetBalance(utils.NormalizeAddress(trader)), nil
}

// GetTraderOrders возвращает ордера трейдера, опционально по рынку
func (s *TradingService) GetTraderOrders(trader, market string, activeOnly bool) ([]*models.Order, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	trader = utils.NormalizeAddress(trader)

	if market != "" {
		book, ok := s.books[market]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
		}
		return book.GetTraderOrders(trader, activeOnly), nil
	}

	var out []*models.Order
	for _, book := range s.books {
		out = append(out, book.GetTraderOrders(trader, activeOnly)...)
	}
	return out, nil
}

// GetTraderPositions возвращает открытые позиции трейдера
func (s *TradingService) GetTraderPositions(trader, market string) ([]*models.Position, error) {
	if err := utils.ValidateAddress(trader); err != nil {
		return nil, err
	}
	return s.ledger.GetTraderPositions(utils.NormalizeAddress(trader), market), nil
}

// GetRecentTrades возвращает последние сделки рынка, новые первыми
func (s *TradingService) GetRecentTrades(market string, limit int) ([]*models.Trade, error) {
	book, ok := s.books[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	if limit <= 0 {
		limit = DefaultTradesLimit
	}
	return book.GetRecentTrades(limit), nil
}

// GetLiquidations возвращает журнал ликвидаций (trader "" = все)
func (s *TradingService) GetLiquidations(trader string, limit int) []*models.Liquidation {
	if trader != "" {
		trader = utils.NormalizeAddress(trader)
	}
	return s.monitor.GetLiquidations(trader, limit)
}

// GetLiquidationStats возвращает агрегаты журнала ликвидаций
func (s *TradingService) GetLiquidationStats(market string) *models.LiquidationStats {
	return s.monitor.GetStats(market)
}

// ExpireOrders снимает истёкшие ордера со всех книг.
// Вызывается периодической задачей.
func (s *TradingService) ExpireOrders(now time.Time) int {
	total := 0
	for market, book := range s.books {
		if n := book.ExpireOrders(now); n > 0 {
			total += n
			s.log.Info("orders expired",
				zap.String("market", market),
				zap.Int("count", n),
			)
		}
	}
	return total
}

// mapLedgerError переводит ошибки леджера в ошибки сервиса
func (s *TradingService) mapLedgerError(err error) error {
	switch {
	case errors.Is(err, engine.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case errors.Is(err, engine.ErrPositionNotFound):
		return ErrPositionNotFound
	case errors.Is(err, engine.ErrInvalidAmount):
		return ErrInvalidAmount
	default:
		return err
	}
}
