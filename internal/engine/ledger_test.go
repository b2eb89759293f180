package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"perpdex/internal/models"
)

func testLedgerConfig() LedgerConfig {
	return LedgerConfig{
		TakerFeeRate:           0.0005,
		LiquidationFeeRate:     0.005,
		MaintenanceMarginRatio: 0.05,
		LiquidationBuffer:      0.01,
	}
}

func newTestLedger(t *testing.T) *PositionLedger {
	t.Helper()
	return NewPositionLedger(testLedgerConfig())
}

func fundedLedger(t *testing.T, trader string, amount float64) *PositionLedger {
	t.Helper()
	ledger := newTestLedger(t)
	if _, err := ledger.Deposit(trader, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return ledger
}

// checkBalanceInvariant проверяет available + usedMargin == total
func checkBalanceInvariant(t *testing.T, ledger *PositionLedger, trader string) {
	t.Helper()
	b := ledger.GetBalance(trader)
	if math.Abs(b.AvailableBalance+b.UsedMargin-b.TotalBalance) > 1e-9 {
		t.Errorf("balance invariant violated: available %v + used %v != total %v",
			b.AvailableBalance, b.UsedMargin, b.TotalBalance)
	}
}

func TestOpenPositionMarginAndLiquidationPrice(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	pos, err := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// margin = size / leverage
	if pos.Margin != 100 {
		t.Errorf("margin: expected 100, got %v", pos.Margin)
	}

	// liqFraction = 0.1 - 0.05 - 0.01 = 0.04; liq = 45000 * 0.96 = 43200
	if math.Abs(pos.LiquidationPrice-43200) > 1e-6 {
		t.Errorf("liquidation price: expected 43200, got %v", pos.LiquidationPrice)
	}

	b := ledger.GetBalance("0xtrader")
	if b.UsedMargin != 100 {
		t.Errorf("used margin: expected 100, got %v", b.UsedMargin)
	}
	if b.AvailableBalance != 9900 {
		t.Errorf("available: expected 9900, got %v", b.AvailableBalance)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func TestLiquidationPriceOrdering(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 100000)

	long, err := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 5, models.MarginTypeIsolated)
	if err != nil {
		t.Fatalf("open long: %v", err)
	}
	if long.LiquidationPrice >= long.EntryPrice {
		t.Errorf("LONG liquidation price %v must be below entry %v", long.LiquidationPrice, long.EntryPrice)
	}

	short, err := ledger.OpenPosition("0xtrader", "ETH-USDC", models.SideShort, 1000, 2500, 5, models.MarginTypeIsolated)
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if short.LiquidationPrice <= short.EntryPrice {
		t.Errorf("SHORT liquidation price %v must be above entry %v", short.LiquidationPrice, short.EntryPrice)
	}
}

func TestOpenPositionInsufficientBalance(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 50)

	_, err := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func applyTestFill(t *testing.T, ledger *PositionLedger, trader, side string, size, price float64, leverage int) {
	t.Helper()
	order := &models.Order{
		OrderID:    "ord-" + trader + "-" + side,
		Trader:     trader,
		Market:     "BTC-USDC",
		Side:       side,
		Type:       models.OrderTypeMarket,
		Size:       size,
		Leverage:   leverage,
		MarginType: models.MarginTypeIsolated,
		Timestamp:  time.Now(),
	}
	trade := &models.Trade{
		TradeID:   "trd-" + trader + "-" + side,
		Market:    "BTC-USDC",
		Price:     price,
		Size:      size,
		Side:      side,
		Fee:       size * testLedgerConfig().TakerFeeRate,
		Timestamp: time.Now(),
	}
	if err := ledger.ApplyFill(order, []*models.Trade{trade}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
}

// Одноимённые исполнения сливаются: средневзвешенный вход, маржа суммируется
func TestSameSideMerge(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	applyTestFill(t, ledger, "0xtrader", models.SideLong, 1000, 45000, 10)
	applyTestFill(t, ledger, "0xtrader", models.SideLong, 1000, 47000, 10)

	positions := ledger.GetTraderPositions("0xtrader", "BTC-USDC")
	if len(positions) != 1 {
		t.Fatalf("expected single merged position, got %d", len(positions))
	}

	pos := positions[0]
	if pos.Size != 2000 {
		t.Errorf("size: expected 2000, got %v", pos.Size)
	}
	if math.Abs(pos.EntryPrice-46000) > 1e-6 {
		t.Errorf("entry: expected weighted average 46000, got %v", pos.EntryPrice)
	}
	if math.Abs(pos.Margin-200) > 1e-6 {
		t.Errorf("margin: expected 200, got %v", pos.Margin)
	}

	// Цена ликвидации пересчитана от слитого входа
	wantLiq := 46000 * (1 - (200.0/2000 - 0.05 - 0.01))
	if math.Abs(pos.LiquidationPrice-wantLiq) > 1e-6 {
		t.Errorf("liquidation price: expected %v, got %v", wantLiq, pos.LiquidationPrice)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

// Противоположное исполнение сначала сокращает позицию,
// остаток открывает новую на стороне входящего ордера
func TestOppositeSideReduceThenOpen(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	applyTestFill(t, ledger, "0xtrader", models.SideLong, 1000, 45000, 10)
	applyTestFill(t, ledger, "0xtrader", models.SideShort, 1500, 45000, 10)

	positions := ledger.GetTraderPositions("0xtrader", "BTC-USDC")
	if len(positions) != 1 {
		t.Fatalf("expected single leftover position, got %d", len(positions))
	}

	pos := positions[0]
	if pos.Side != models.SideShort {
		t.Errorf("leftover side: expected SHORT, got %s", pos.Side)
	}
	if math.Abs(pos.Size-500) > 1e-6 {
		t.Errorf("leftover size: expected 500, got %v", pos.Size)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

// Точное противоположное исполнение закрывает позицию без остатка
func TestOppositeSideExactClose(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	applyTestFill(t, ledger, "0xtrader", models.SideLong, 1000, 45000, 10)
	applyTestFill(t, ledger, "0xtrader", models.SideShort, 1000, 45000, 10)

	if positions := ledger.GetTraderPositions("0xtrader", "BTC-USDC"); len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func TestClosePositionPnl(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	pos, err := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// pnl = (46000 - 45000) * 1 * 1000 / 45000 = 22.22
	closed, pnl, err := ledger.ClosePosition(pos.PositionID, 46000, 100)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	wantPnl := (46000.0 - 45000.0) * 1000 / 45000
	if math.Abs(pnl-wantPnl) > 1e-6 {
		t.Errorf("pnl: expected %v, got %v", wantPnl, pnl)
	}
	if closed.Size != 0 {
		t.Errorf("closed position size must be 0, got %v", closed.Size)
	}

	if _, ok := ledger.GetPosition(pos.PositionID); ok {
		t.Error("fully closed position must be deleted")
	}

	b := ledger.GetBalance("0xtrader")
	fee := 1000 * testLedgerConfig().TakerFeeRate
	wantTotal := 10000 + wantPnl - fee
	if math.Abs(b.TotalBalance-wantTotal) > 1e-6 {
		t.Errorf("total balance: expected %v, got %v", wantTotal, b.TotalBalance)
	}
	if math.Abs(b.TotalPnl-wantPnl) > 1e-6 {
		t.Errorf("total pnl: expected %v, got %v", wantPnl, b.TotalPnl)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func TestPartialClose(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)

	pos, _ := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	reduced, _, err := ledger.ClosePosition(pos.PositionID, 45000, 40)
	if err != nil {
		t.Fatalf("partial close: %v", err)
	}

	if math.Abs(reduced.Size-600) > 1e-6 {
		t.Errorf("size after 40%% close: expected 600, got %v", reduced.Size)
	}
	if math.Abs(reduced.Margin-60) > 1e-6 {
		t.Errorf("margin after 40%% close: expected 60, got %v", reduced.Margin)
	}

	still, ok := ledger.GetPosition(pos.PositionID)
	if !ok {
		t.Fatal("partially closed position must remain open")
	}
	if math.Abs(still.Size-600) > 1e-6 {
		t.Errorf("remaining size: expected 600, got %v", still.Size)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func TestClosePositionInvalidPercentage(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)
	pos, _ := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	for _, pct := range []float64{0, -10, 101} {
		if _, _, err := ledger.ClosePosition(pos.PositionID, 45000, pct); !errors.Is(err, ErrInvalidPercentage) {
			t.Errorf("percentage %v: expected ErrInvalidPercentage, got %v", pct, err)
		}
	}
}

func TestUpdatePositionPrice(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)
	pos, _ := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	ledger.UpdateMarketPrice("BTC-USDC", 43000)

	updated, _ := ledger.GetPosition(pos.PositionID)
	wantPnl := (43000.0 - 45000.0) * 1000 / 45000 // ≈ -44.44
	if math.Abs(updated.Pnl-wantPnl) > 1e-6 {
		t.Errorf("pnl: expected %v, got %v", wantPnl, updated.Pnl)
	}
	wantPct := wantPnl / 100 * 100
	if math.Abs(updated.PnlPercentage-wantPct) > 1e-6 {
		t.Errorf("pnl%%: expected %v, got %v", wantPct, updated.PnlPercentage)
	}

	b := ledger.GetBalance("0xtrader")
	if math.Abs(b.UnrealizedPnl-wantPnl) > 1e-6 {
		t.Errorf("unrealized pnl: expected %v, got %v", wantPnl, b.UnrealizedPnl)
	}
}

func TestUpdatePositionLimits(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 10000)
	pos, _ := ledger.OpenPosition("0xtrader", "BTC-USDC", models.SideLong, 1000, 45000, 10, models.MarginTypeIsolated)

	sl, tp := 43000.0, 48000.0
	updated, err := ledger.UpdatePositionLimits(pos.PositionID, &sl, &tp)
	if err != nil {
		t.Fatalf("UpdatePositionLimits: %v", err)
	}
	if updated.StopLoss == nil || *updated.StopLoss != 43000 {
		t.Error("stop loss not set")
	}
	if updated.TakeProfit == nil || *updated.TakeProfit != 48000 {
		t.Error("take profit not set")
	}

	if _, err := ledger.UpdatePositionLimits("unknown", &sl, nil); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

// Удержанные под ордер средства недоступны выводу; применение сделок
// ордера потребляет удержание и открывает позицию из тех же средств
func TestReserveMarginBlocksWithdrawUntilFill(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 200)

	if err := ledger.ReserveMargin("ord-1", "0xtrader", 100.5); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Withdraw("0xtrader", 150); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("withdraw over hold: expected ErrInsufficientBalance, got %v", err)
	}

	order := &models.Order{
		OrderID:    "ord-1",
		Trader:     "0xtrader",
		Market:     "BTC-USDC",
		Side:       models.SideLong,
		Type:       models.OrderTypeMarket,
		Size:       1000,
		Leverage:   10,
		MarginType: models.MarginTypeIsolated,
		Timestamp:  time.Now(),
	}
	trade := &models.Trade{
		TradeID:   "trd-1",
		Market:    "BTC-USDC",
		Price:     45000,
		Size:      1000,
		Side:      models.SideLong,
		Fee:       1000 * testLedgerConfig().TakerFeeRate,
		Timestamp: time.Now(),
	}
	if err := ledger.ApplyFill(order, []*models.Trade{trade}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	if positions := ledger.GetTraderPositions("0xtrader", "BTC-USDC"); len(positions) != 1 {
		t.Fatalf("expected 1 position from held fill, got %d", len(positions))
	}

	b := ledger.GetBalance("0xtrader")
	if math.Abs(b.UsedMargin-100) > 1e-9 {
		t.Errorf("used margin: expected 100, got %v", b.UsedMargin)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

func TestReserveMarginInsufficient(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 50)

	if err := ledger.ReserveMargin("ord-1", "0xtrader", 100); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.ReserveMargin("ord-2", "0xtrader", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	// Неудавшееся удержание не трогает баланс
	if b := ledger.GetBalance("0xtrader"); b.AvailableBalance != 50 {
		t.Errorf("available: expected 50, got %v", b.AvailableBalance)
	}
}

func TestReleaseMarginRestoresAvailable(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 200)

	if err := ledger.ReserveMargin("ord-1", "0xtrader", 100.5); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	ledger.ReleaseMargin("ord-1")

	if b := ledger.GetBalance("0xtrader"); b.AvailableBalance != 200 {
		t.Errorf("available after release: expected 200, got %v", b.AvailableBalance)
	}

	// Повторный и неизвестный release - no-op
	ledger.ReleaseMargin("ord-1")
	ledger.ReleaseMargin("ghost")
	if b := ledger.GetBalance("0xtrader"); b.AvailableBalance != 200 {
		t.Errorf("available after double release: expected 200, got %v", b.AvailableBalance)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

// Депозит X, затем вывод X возвращают балансы ровно к исходным
func TestDepositWithdrawRoundTrip(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 1000)
	before := ledger.GetBalance("0xtrader")

	if _, err := ledger.Deposit("0xtrader", 250); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ledger.Withdraw("0xtrader", 250); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	after := ledger.GetBalance("0xtrader")
	if after.TotalBalance != before.TotalBalance || after.AvailableBalance != before.AvailableBalance {
		t.Errorf("round trip mismatch: before %+v, after %+v", before, after)
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	ledger := fundedLedger(t, "0xtrader", 100)

	if _, err := ledger.Withdraw("0xtrader", 200); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := ledger.Withdraw("0xtrader", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	checkBalanceInvariant(t, ledger, "0xtrader")
}

// Баланс создаётся лениво нулевым
func TestGetBalanceLazyCreate(t *testing.T) {
	ledger := newTestLedger(t)

	b := ledger.GetBalance("0xnew")
	if b.TotalBalance != 0 || b.AvailableBalance != 0 || b.UsedMargin != 0 {
		t.Errorf("expected zeroed balance, got %+v", b)
	}
	if b.Trader != "0xnew" {
		t.Errorf("trader: expected 0xnew, got %s", b.Trader)
	}
}
