package handlers

import (
	"errors"
	"sync"

	"perpdex/internal/models"
	"perpdex/internal/service"
)

// ErrMockInternal - инжектируемая ошибка для веток 500
var ErrMockInternal = errors.New("mock internal error")

// ============ Mock Order Service ============

// MockOrderService мок для OrderService
type MockOrderService struct {
	createResult *service.CreateOrderResult
	createErr    error
	cancelResult bool
	cancelErr    error
	orders       []*models.Order
	ordersErr    error
	orderbook    *models.Orderbook
	orderbookErr error
	trades       []*models.Trade
	tradesErr    error

	lastCreate service.CreateOrderParams
	lastCancel struct {
		OrderID string
		Trader  string
		Sig     string
	}
	mu sync.Mutex
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{}
}

func (m *MockOrderService) CreateOrder(params service.CreateOrderParams) (*service.CreateOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCreate = params
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResult, nil
}

func (m *MockOrderService) CancelOrder(orderID, trader, sig string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCancel.OrderID = orderID
	m.lastCancel.Trader = trader
	m.lastCancel.Sig = sig
	if m.cancelErr != nil {
		return false, m.cancelErr
	}
	return m.cancelResult, nil
}

func (m *MockOrderService) GetTraderOrders(trader, market string, activeOnly bool) ([]*models.Order, error) {
	if m.ordersErr != nil {
		return nil, m.ordersErr
	}
	return m.orders, nil
}

func (m *MockOrderService) GetOrderbook(market string, depth int) (*models.Orderbook, error) {
	if m.orderbookErr != nil {
		return nil, m.orderbookErr
	}
	return m.orderbook, nil
}

func (m *MockOrderService) GetRecentTrades(market string, limit int) ([]*models.Trade, error) {
	if m.tradesErr != nil {
		return nil, m.tradesErr
	}
	return m.trades, nil
}

// ============ Mock Position Service ============

// MockPositionService мок для PositionService
type MockPositionService struct {
	positions    []*models.Position
	positionsErr error
	closeResult  *models.Position
	closeErr     error
	updateResult *models.Position
	updateErr    error
	liquidations []*models.Liquidation
	stats        *models.LiquidationStats

	lastClose struct {
		PositionID string
		Trader     string
		Percentage float64
		Sig        string
	}
	mu sync.Mutex
}

func NewMockPositionService() *MockPositionService {
	return &MockPositionService{
		stats: &models.LiquidationStats{Market: "ALL"},
	}
}

func (m *MockPositionService) GetTraderPositions(trader, market string) ([]*models.Position, error) {
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return m.positions, nil
}

func (m *MockPositionService) ClosePosition(positionID, trader string, percentage float64, sig string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastClose.PositionID = positionID
	m.lastClose.Trader = trader
	m.lastClose.Percentage = percentage
	m.lastClose.Sig = sig
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	return m.closeResult, nil
}

func (m *MockPositionService) UpdatePosition(positionID, trader string, stopLoss, takeProfit *float64) (*models.Position, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return m.updateResult, nil
}

func (m *MockPositionService) GetLiquidations(trader string, limit int) []*models.Liquidation {
	return m.liquidations
}

func (m *MockPositionService) GetLiquidationStats(market string) *models.LiquidationStats {
	return m.stats
}

// ============ Mock Account Service ============

// MockAccountService мок для AccountService
type MockAccountService struct {
	balance     *models.TraderBalance
	balanceErr  error
	depositErr  error
	withdrawErr error

	lastWithdraw struct {
		Trader string
		Amount float64
		Nonce  string
		Sig    string
	}
	mu sync.Mutex
}

func NewMockAccountService() *MockAccountService {
	return &MockAccountService{
		balance: &models.TraderBalance{
			Trader:           "0x1111111111111111111111111111111111111111",
			TotalBalance:     10000,
			AvailableBalance: 10000,
		},
	}
}

func (m *MockAccountService) GetBalance(trader string) (*models.TraderBalance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *MockAccountService) Deposit(trader string, amount float64) (*models.TraderBalance, error) {
	if m.depositErr != nil {
		return nil, m.depositErr
	}
	return m.balance, nil
}

func (m *MockAccountService) Withdraw(trader string, amount float64, nonce, sig string) (*models.TraderBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastWithdraw.Trader = trader
	m.lastWithdraw.Amount = amount
	m.lastWithdraw.Nonce = nonce
	m.lastWithdraw.Sig = sig
	if m.withdrawErr != nil {
		return nil, m.withdrawErr
	}
	return m.balance, nil
}

// ============ Mock Market Service ============

// MockMarketService мок для MarketService
type MockMarketService struct {
	markets []*models.MarketData
	data    *models.MarketData
	dataErr error
}

func NewMockMarketService() *MockMarketService {
	return &MockMarketService{
		markets: []*models.MarketData{
			{Market: "BTC-USDC", Price: 45000},
			{Market: "ETH-USDC", Price: 2500},
		},
		data: &models.MarketData{Market: "BTC-USDC", Price: 45000},
	}
}

func (m *MockMarketService) GetAllMarkets() []*models.MarketData {
	return m.markets
}

func (m *MockMarketService) GetMarketData(market string) (*models.MarketData, error) {
	if m.dataErr != nil {
		return nil, m.dataErr
	}
	return m.data, nil
}
