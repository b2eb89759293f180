package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perpdex/internal/api"
	"perpdex/internal/config"
	"perpdex/internal/engine"
	"perpdex/internal/oracle"
	"perpdex/internal/service"
	"perpdex/internal/signature"
	ws "perpdex/internal/websocket"
	"perpdex/pkg/logger"
)

// Синтетическая ликвидность при старте рынка:
// 5 уровней на сторону по 50k USD
const (
	seedLevelsPerSide = 5
	seedSizePerLevel  = 50_000
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	log.Info("starting perpdex",
		zap.Int("markets", len(cfg.Markets)),
		zap.Bool("oracle", cfg.Oracle.Enabled),
	)

	// WebSocket hub: сток событий движка
	hub := ws.NewHub(log.Named("ws"))
	go hub.Run()
	defer hub.Stop()

	// Леджер позиций и балансов
	ledger := engine.NewPositionLedger(engine.LedgerConfig{
		TakerFeeRate:           cfg.Trading.TakerFeeRate,
		LiquidationFeeRate:     cfg.Trading.LiquidationFeeRate,
		MaintenanceMarginRatio: cfg.Trading.MaintenanceMarginRatio,
		LiquidationBuffer:      cfg.Trading.LiquidationBuffer,
	})

	// Книги ордеров: одна на рынок, с синтетической ликвидностью
	// вокруг базовой цены
	books := make(map[string]*engine.OrderBook, len(cfg.Markets))
	for _, market := range cfg.Markets {
		book := engine.NewOrderBook(market, cfg.Trading.TakerFeeRate)
		book.SeedLiquidity(market.BasePrice, seedLevelsPerSide, seedSizePerLevel)
		books[market.Symbol] = book
	}

	// Оракул цен: без него фид работает только на симуляции
	var oracleClient *oracle.Client
	if cfg.Oracle.Enabled {
		httpCfg := oracle.DefaultHTTPClientConfig()
		httpCfg.TotalTimeout = cfg.Oracle.RequestTimeout
		httpClient := oracle.NewHTTPClient(httpCfg)
		oracleClient = oracle.NewClient(cfg.Oracle.BaseURL, httpClient)
	}

	feed := engine.NewPriceFeed(
		cfg.Markets,
		oracleClient,
		ledger,
		hub,
		cfg.Trading.PriceUpdateInterval,
		log.Named("feed"),
	)

	monitor := engine.NewLiquidationMonitor(
		ledger,
		feed,
		hub,
		cfg.Trading.LiquidationInterval,
		cfg.Trading.LiquidationFeeRate,
		log.Named("liquidation"),
	)

	tradingService := service.NewTradingService(
		cfg.Trading,
		books,
		ledger,
		feed,
		monitor,
		signature.NewVerifier(),
		hub,
		log.Named("service"),
	)

	// Фоновые циклы: цены, ликвидации, экспирация лимитных ордеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go feed.Run(ctx)
	go monitor.Run(ctx)
	go expireLoop(ctx, tradingService, cfg.Trading.OrderExpiryInterval, log)

	// Начальный снапшот рынков для новых WebSocket клиентов
	hub.BroadcastMarkets(tradingService.GetAllMarkets())

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		Service: tradingService,
		Hub:     hub,
		Config:  cfg,
		Log:     log.Named("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// expireLoop периодически снимает протухшие лимитные ордера
func expireLoop(ctx context.Context, svc *service.TradingService, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := svc.ExpireOrders(now); n > 0 {
				log.Info("expired stale orders", zap.Int("count", n))
			}
		}
	}
}
