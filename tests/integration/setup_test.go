// Package integration contains integration tests for the perpetual exchange.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle with real signatures
// - WebSocket tests: connection, broadcast messaging
//
// The whole stack runs in-memory: seeded orderbooks, ledger, price feed
// in simulation mode (oracle disabled), liquidation monitor and the
// real EIP-191 verifier.
package integration

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"perpdex/internal/api"
	"perpdex/internal/config"
	"perpdex/internal/engine"
	"perpdex/internal/service"
	"perpdex/internal/signature"
	ws "perpdex/internal/websocket"
	"perpdex/pkg/logger"
)

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	Config  *config.Config
	Books   map[string]*engine.OrderBook
	Ledger  *engine.PositionLedger
	Feed    *engine.PriceFeed
	Service *service.TradingService
	Hub     *ws.Hub
	Server  *httptest.Server
	Cleanup func()
}

// SetupTestServer builds the full in-memory stack behind an httptest server.
//
// The price feed is ticked once by hand instead of running its loop, so
// every test sees a deterministic set of priced markets.
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.Oracle.Enabled = false

	log := logger.Nop()

	hub := ws.NewHub(log)
	go hub.Run()

	ledger := engine.NewPositionLedger(engine.LedgerConfig{
		TakerFeeRate:           cfg.Trading.TakerFeeRate,
		LiquidationFeeRate:     cfg.Trading.LiquidationFeeRate,
		MaintenanceMarginRatio: cfg.Trading.MaintenanceMarginRatio,
		LiquidationBuffer:      cfg.Trading.LiquidationBuffer,
	})

	books := make(map[string]*engine.OrderBook, len(cfg.Markets))
	for _, market := range cfg.Markets {
		book := engine.NewOrderBook(market, cfg.Trading.TakerFeeRate)
		book.SeedLiquidity(market.BasePrice, 5, 50_000)
		books[market.Symbol] = book
	}

	feed := engine.NewPriceFeed(cfg.Markets, nil, ledger, hub, cfg.Trading.PriceUpdateInterval, log)
	feed.UpdateAll(context.Background())

	monitor := engine.NewLiquidationMonitor(
		ledger, feed, hub,
		cfg.Trading.LiquidationInterval,
		cfg.Trading.LiquidationFeeRate,
		log,
	)

	svc := service.NewTradingService(
		cfg.Trading, books, ledger, feed, monitor,
		signature.NewVerifier(), hub, log,
	)

	hub.BroadcastMarkets(svc.GetAllMarkets())

	router := api.SetupRoutes(&api.Dependencies{
		Service: svc,
		Hub:     hub,
		Config:  cfg,
		Log:     log,
	})
	server := httptest.NewServer(router)

	return &TestServer{
		Config:  cfg,
		Books:   books,
		Ledger:  ledger,
		Feed:    feed,
		Service: svc,
		Hub:     hub,
		Server:  server,
		Cleanup: func() {
			server.Close()
			hub.Stop()
		},
	}
}

// TestTrader is a wallet with a real secp256k1 key for signing requests
type TestTrader struct {
	Priv    *secp256k1.PrivateKey
	Address string
}

// NewTestTrader generates a fresh keypair
func NewTestTrader(t *testing.T) *TestTrader {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return &TestTrader{
		Priv:    priv,
		Address: signature.AddressFromPrivateKey(priv),
	}
}

// SignOrder signs the canonical order message
func (tr *TestTrader) SignOrder(orderID, market, side string, size float64, price *float64, leverage int) string {
	msg := signature.OrderMessage(orderID, tr.Address, market, side, size, price, leverage)
	return signature.Sign(msg, tr.Priv)
}

// SignCancel signs the canonical cancel message (also used for closing
// positions, which sign their position id the same way)
func (tr *TestTrader) SignCancel(id string) string {
	return signature.Sign(signature.CancelMessage(id), tr.Priv)
}

// SignWithdraw signs the canonical withdraw message
func (tr *TestTrader) SignWithdraw(amount float64, nonce string) string {
	return signature.Sign(signature.WithdrawMessage(tr.Address, amount, nonce), tr.Priv)
}
