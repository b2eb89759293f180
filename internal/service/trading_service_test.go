package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"perpdex/internal/config"
	"perpdex/internal/engine"
	"perpdex/internal/models"
	"perpdex/internal/signature"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	testTrader = "0x1111111111111111111111111111111111111111"
	testMaker  = "0x2222222222222222222222222222222222222222"
)

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		MakerFeeRate:           0.0002,
		TakerFeeRate:           0.0005,
		LiquidationFeeRate:     0.005,
		MaintenanceMarginRatio: 0.05,
		LiquidationBuffer:      0.01,
		MinOrderSize:           10,
		MaxOrderSize:           1_000_000,
		OrderExpiry:            30 * 24 * time.Hour,
		PriceUpdateInterval:    100 * time.Millisecond,
		LiquidationInterval:    time.Second,
	}
}

type testEnv struct {
	svc         *TradingService
	books       map[string]*engine.OrderBook
	ledger      *engine.PositionLedger
	feed        *engine.PriceFeed
	verifier    *stubVerifier
	broadcaster *recordingBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testTradingConfig()
	markets := config.DefaultMarkets()

	books := make(map[string]*engine.OrderBook, len(markets))
	for _, m := range markets {
		books[m.Symbol] = engine.NewOrderBook(m, cfg.TakerFeeRate)
	}

	ledger := engine.NewPositionLedger(engine.LedgerConfig{
		TakerFeeRate:           cfg.TakerFeeRate,
		LiquidationFeeRate:     cfg.LiquidationFeeRate,
		MaintenanceMarginRatio: cfg.MaintenanceMarginRatio,
		LiquidationBuffer:      cfg.LiquidationBuffer,
	})

	broadcaster := &recordingBroadcaster{}
	feed := engine.NewPriceFeed(markets, nil, ledger, broadcaster, cfg.PriceUpdateInterval, nil)
	monitor := engine.NewLiquidationMonitor(ledger, feed, broadcaster, cfg.LiquidationInterval, cfg.LiquidationFeeRate, nil)
	verifier := &stubVerifier{accept: true}

	svc := NewTradingService(cfg, books, ledger, feed, monitor, verifier, broadcaster, nil)

	return &testEnv{
		svc:         svc,
		books:       books,
		ledger:      ledger,
		feed:        feed,
		verifier:    verifier,
		broadcaster: broadcaster,
	}
}

func (e *testEnv) fund(t *testing.T, trader string, amount float64) {
	t.Helper()
	if _, err := e.svc.Deposit(trader, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func marketParams(id, trader string, size float64) CreateOrderParams {
	return CreateOrderParams{
		OrderID:   id,
		Trader:    trader,
		Market:    "BTC-USDC",
		Side:      models.SideLong,
		Type:      models.OrderTypeMarket,
		Size:      size,
		Leverage:  10,
		Signature: "0xsig",
	}
}

// Полный путь: отстоявшийся ask, рыночный LONG, позиция в леджере
func TestCreateOrderEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)
	env.fund(t, testMaker, 100000)

	askPrice := 45000.0
	_, err := env.svc.CreateOrder(CreateOrderParams{
		OrderID:   "ask-1",
		Trader:    testMaker,
		Market:    "BTC-USDC",
		Side:      models.SideShort,
		Type:      models.OrderTypeLimit,
		Size:      2000,
		Price:     &askPrice,
		Leverage:  10,
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatalf("resting ask: %v", err)
	}

	result, err := env.svc.CreateOrder(marketParams("mkt-1", testTrader, 1000))
	if err != nil {
		t.Fatalf("market order: %v", err)
	}

	if len(result.Trades) != 1 || result.Trades[0].Price != 45000 || result.Trades[0].Size != 1000 {
		t.Fatalf("expected one 1000@45000 trade, got %+v", result.Trades)
	}
	if result.Order.Status != models.OrderStatusFilled {
		t.Errorf("order status: expected FILLED, got %s", result.Order.Status)
	}

	positions, _ := env.svc.GetTraderPositions(testTrader, "BTC-USDC")
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].EntryPrice != 45000 || math.Abs(positions[0].Margin-100) > 1e-9 {
		t.Errorf("position: entry %v margin %v", positions[0].EntryPrice, positions[0].Margin)
	}

	if env.broadcaster.orderCount() == 0 || env.broadcaster.tradeCount() != 1 {
		t.Error("order and trade events must be broadcast")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	tests := []struct {
		name    string
		mutate  func(*CreateOrderParams)
		wantErr error
	}{
		{"missing order id", func(p *CreateOrderParams) { p.OrderID = "" }, ErrOrderIDRequired},
		{"unknown market", func(p *CreateOrderParams) { p.Market = "XXX-USDC" }, ErrMarketNotFound},
		{"bad side", func(p *CreateOrderParams) { p.Side = "UP" }, ErrInvalidSide},
		{"size below min", func(p *CreateOrderParams) { p.Size = 5 }, ErrInvalidSize},
		{"size above max", func(p *CreateOrderParams) { p.Size = 2_000_000 }, ErrInvalidSize},
		{"leverage above cap", func(p *CreateOrderParams) { p.Leverage = 200 }, ErrInvalidLeverage},
		{"zero leverage", func(p *CreateOrderParams) { p.Leverage = 0 }, ErrInvalidLeverage},
		{"limit without price", func(p *CreateOrderParams) { p.Type = models.OrderTypeLimit }, ErrPriceRequired},
		{"stop without trigger", func(p *CreateOrderParams) { p.Type = models.OrderTypeStopLoss }, ErrTriggerPriceRequired},
		{"bad margin type", func(p *CreateOrderParams) { p.MarginType = "SUPER" }, ErrInvalidMarginType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := marketParams("ord-1", testTrader, 1000)
			tt.mutate(&params)
			_, err := env.svc.CreateOrder(params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateOrderRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)
	env.verifier.accept = false

	_, err := env.svc.CreateOrder(marketParams("ord-1", testTrader, 1000))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	// Подписывается канонический order-месседж
	want := signature.OrderMessage("ord-1", testTrader, "BTC-USDC", models.SideLong, 1000, nil, 10)
	if env.verifier.lastMessage != want {
		t.Errorf("message:\n got  %s\n want %s", env.verifier.lastMessage, want)
	}
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 50)

	_, err := env.svc.CreateOrder(marketParams("ord-1", testTrader, 1000))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

// Баланса хватает ровно на один ордер: второй, на другом рынке,
// отклоняется целиком до матчинга - книга второго рынка не тронута,
// сделок и позиции нет
func TestCreateOrderSharedBalanceTwoMarkets(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 150)

	env.books["BTC-USDC"].SeedLiquidity(45000, 5, 50000)
	env.books["ETH-USDC"].SeedLiquidity(2500, 5, 50000)

	// margin 100 + taker fee 0.5: первый ордер проходит
	if _, err := env.svc.CreateOrder(marketParams("mkt-1", testTrader, 1000)); err != nil {
		t.Fatalf("first order: %v", err)
	}

	ethParams := marketParams("mkt-2", testTrader, 1000)
	ethParams.Market = "ETH-USDC"
	if _, err := env.svc.CreateOrder(ethParams); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second order: expected ErrInsufficientBalance, got %v", err)
	}

	ob, _ := env.svc.GetOrderbook("ETH-USDC", 1)
	if len(ob.Asks) == 0 || ob.Asks[0].Size != 50000 {
		t.Errorf("ETH book must be untouched, asks: %+v", ob.Asks)
	}
	trades, _ := env.svc.GetRecentTrades("ETH-USDC", 0)
	if len(trades) != 0 {
		t.Errorf("expected no ETH trades, got %d", len(trades))
	}
	if positions, _ := env.svc.GetTraderPositions(testTrader, "ETH-USDC"); len(positions) != 0 {
		t.Errorf("expected no ETH position, got %d", len(positions))
	}
}

// Отстоявшийся лимитный ордер не держит удержание: свободный баланс
// после постановки в книгу не меняется
func TestCreateOrderRestingReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	price := 40000.0
	result, err := env.svc.CreateOrder(CreateOrderParams{
		OrderID: "bid-1", Trader: testTrader, Market: "BTC-USDC",
		Side: models.SideLong, Type: models.OrderTypeLimit,
		Size: 500, Price: &price, Leverage: 10, Signature: "0xsig",
	})
	if err != nil {
		t.Fatalf("resting bid: %v", err)
	}
	if result.Order.Status != models.OrderStatusOpen {
		t.Fatalf("order status: expected OPEN, got %s", result.Order.Status)
	}

	b, _ := env.svc.GetBalance(testTrader)
	if b.AvailableBalance != 10000 {
		t.Errorf("available after resting order: expected 10000, got %v", b.AvailableBalance)
	}
}

// Реальная криптография сквозь сервис: ключ, подпись, восстановление
func TestCreateOrderWithRealSignature(t *testing.T) {
	cfg := testTradingConfig()
	markets := config.DefaultMarkets()

	books := make(map[string]*engine.OrderBook, len(markets))
	for _, m := range markets {
		books[m.Symbol] = engine.NewOrderBook(m, cfg.TakerFeeRate)
	}
	ledger := engine.NewPositionLedger(engine.LedgerConfig{
		TakerFeeRate:           cfg.TakerFeeRate,
		MaintenanceMarginRatio: cfg.MaintenanceMarginRatio,
		LiquidationBuffer:      cfg.LiquidationBuffer,
	})
	feed := engine.NewPriceFeed(markets, nil, ledger, nil, cfg.PriceUpdateInterval, nil)
	monitor := engine.NewLiquidationMonitor(ledger, feed, nil, cfg.LiquidationInterval, cfg.LiquidationFeeRate, nil)

	svc := NewTradingService(cfg, books, ledger, feed, monitor, signature.NewVerifier(), nil, nil)

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	trader := signature.AddressFromPrivateKey(priv)

	if _, err := svc.Deposit(trader, 10000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	msg := signature.OrderMessage("ord-real", trader, "BTC-USDC", models.SideLong, 1000, nil, 10)
	params := marketParams("ord-real", trader, 1000)
	params.Signature = signature.Sign(msg, priv)

	if _, err := svc.CreateOrder(params); err != nil {
		t.Fatalf("create order with real signature: %v", err)
	}

	// Чужой ключ - отказ
	other, _ := secp256k1.GeneratePrivateKey()
	params2 := marketParams("ord-forged", trader, 1000)
	msg2 := signature.OrderMessage("ord-forged", trader, "BTC-USDC", models.SideLong, 1000, nil, 10)
	params2.Signature = signature.Sign(msg2, other)

	if _, err := svc.CreateOrder(params2); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for forged signature, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	price := 44000.0
	_, err := env.svc.CreateOrder(CreateOrderParams{
		OrderID:   "bid-1",
		Trader:    testTrader,
		Market:    "BTC-USDC",
		Side:      models.SideLong,
		Type:      models.OrderTypeLimit,
		Size:      500,
		Price:     &price,
		Leverage:  10,
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := env.svc.CancelOrder("bid-1", testTrader, "0xsig")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	// Повторная отмена - false, без ошибки
	ok, err = env.svc.CancelOrder("bid-1", testTrader, "0xsig")
	if err != nil || ok {
		t.Errorf("second cancel: ok=%v err=%v", ok, err)
	}

	// Неизвестный ордер - false, без ошибки
	ok, err = env.svc.CancelOrder("ghost", testTrader, "0xsig")
	if err != nil || ok {
		t.Errorf("unknown cancel: ok=%v err=%v", ok, err)
	}
}

func TestCancelOrderNotOwner(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	price := 44000.0
	env.svc.CreateOrder(CreateOrderParams{
		OrderID: "bid-1", Trader: testTrader, Market: "BTC-USDC",
		Side: models.SideLong, Type: models.OrderTypeLimit,
		Size: 500, Price: &price, Leverage: 10, Signature: "0xsig",
	})

	if _, err := env.svc.CancelOrder("bid-1", testMaker, "0xsig"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestClosePosition(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)
	env.fund(t, testMaker, 100000)

	// Цена нужна для закрытия по рынку
	env.feed.UpdateAll(context.Background())

	askPrice := 45000.0
	env.svc.CreateOrder(CreateOrderParams{
		OrderID: "ask-1", Trader: testMaker, Market: "BTC-USDC",
		Side: models.SideShort, Type: models.OrderTypeLimit,
		Size: 2000, Price: &askPrice, Leverage: 10, Signature: "0xsig",
	})
	env.svc.CreateOrder(marketParams("mkt-1", testTrader, 1000))

	positions, _ := env.svc.GetTraderPositions(testTrader, "BTC-USDC")
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	closed, err := env.svc.ClosePosition(positions[0].PositionID, testTrader, 0, "0xsig")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Size != 0 {
		t.Errorf("full close must zero the size, got %v", closed.Size)
	}

	remaining, _ := env.svc.GetTraderPositions(testTrader, "BTC-USDC")
	if len(remaining) != 0 {
		t.Errorf("expected no open positions, got %d", len(remaining))
	}
}

func TestClosePositionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	if _, err := env.svc.ClosePosition("ghost", testTrader, 100, "0xsig"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	pos, _ := env.ledger.OpenPosition(testTrader, "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	if _, err := env.svc.ClosePosition(pos.PositionID, testMaker, 100, "0xsig"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	// Рынок ещё не оценён фидом
	if _, err := env.svc.ClosePosition(pos.PositionID, testTrader, 100, "0xsig"); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestUpdatePosition(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	pos, _ := env.ledger.OpenPosition(testTrader, "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	sl := 43000.0
	updated, err := env.svc.UpdatePosition(pos.PositionID, testTrader, &sl, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StopLoss == nil || *updated.StopLoss != 43000 {
		t.Error("stop loss not stored")
	}

	if _, err := env.svc.UpdatePosition(pos.PositionID, testMaker, &sl, nil); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 1000)

	balance, err := env.svc.Withdraw(testTrader, 400, "nonce-1", "0xsig")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if balance.TotalBalance != 600 || balance.AvailableBalance != 600 {
		t.Errorf("balance after withdraw: %+v", balance)
	}

	// Подписывается канонический withdraw-месседж с nonce
	want := signature.WithdrawMessage(testTrader, 400, "nonce-1")
	if env.verifier.lastMessage != want {
		t.Errorf("message:\n got  %s\n want %s", env.verifier.lastMessage, want)
	}

	if _, err := env.svc.Withdraw(testTrader, 10000, "nonce-2", "0xsig"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	env.verifier.accept = false
	if _, err := env.svc.Withdraw(testTrader, 10, "nonce-3", "0xsig"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestGetOrderbookAndTrades(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 100000)

	env.books["BTC-USDC"].SeedLiquidity(45000, 10, 10000)

	ob, err := env.svc.GetOrderbook("BTC-USDC", 5)
	if err != nil {
		t.Fatalf("orderbook: %v", err)
	}
	if len(ob.Bids) != 5 || len(ob.Asks) != 5 {
		t.Errorf("depth: %d bids / %d asks", len(ob.Bids), len(ob.Asks))
	}

	if _, err := env.svc.GetOrderbook("XXX-USDC", 5); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}

	env.svc.CreateOrder(marketParams("mkt-1", testTrader, 1000))

	trades, err := env.svc.GetRecentTrades("BTC-USDC", 0)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) == 0 {
		t.Error("expected trades after market order")
	}
}

func TestExpireOrders(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, testTrader, 10000)

	price := 44000.0
	env.svc.CreateOrder(CreateOrderParams{
		OrderID: "bid-1", Trader: testTrader, Market: "BTC-USDC",
		Side: models.SideLong, Type: models.OrderTypeLimit,
		Size: 500, Price: &price, Leverage: 10, Signature: "0xsig",
	})

	// До дедлайна ничего не истекает
	if n := env.svc.ExpireOrders(time.Now()); n != 0 {
		t.Errorf("expected 0 expired now, got %d", n)
	}

	// За горизонтом OrderExpiry ордер истекает
	future := time.Now().Add(31 * 24 * time.Hour)
	if n := env.svc.ExpireOrders(future); n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}
}

func TestGetAllMarketsAndMarketData(t *testing.T) {
	env := newTestEnv(t)
	env.feed.UpdateAll(context.Background())

	all := env.svc.GetAllMarkets()
	if len(all) != 5 {
		t.Fatalf("expected 5 markets, got %d", len(all))
	}

	data, err := env.svc.GetMarketData("BTC-USDC")
	if err != nil {
		t.Fatalf("market data: %v", err)
	}
	if data.Price == 0 {
		t.Error("price must be set after feed tick")
	}

	if _, err := env.svc.GetMarketData("XXX-USDC"); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}
