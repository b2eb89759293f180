// Package api - HTTP маршрутизация торгового API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpdex/internal/api/handlers"
	"perpdex/internal/api/middleware"
	"perpdex/internal/config"
	"perpdex/internal/service"
	ws "perpdex/internal/websocket"
	"perpdex/pkg/logger"
	"perpdex/pkg/ratelimit"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Service *service.TradingService
	Hub     *ws.Hub
	Config  *config.Config
	Log     *logger.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders
//	│   ├── POST / - создать ордер (подписанный)
//	│   ├── DELETE /{id} - отменить ордер (подписанный)
//	│   └── GET /?trader=&market=&active= - ордера трейдера
//	├── /orderbook/{market} - снапшот стакана
//	├── /trades/{market} - последние сделки
//	├── /positions
//	│   ├── GET /?trader=&market= - позиции трейдера
//	│   ├── POST /{id}/close - закрыть позицию (подписанный)
//	│   └── PATCH /{id} - обновить SL/TP
//	├── /liquidations
//	│   ├── GET /?trader=&limit= - журнал ликвидаций
//	│   └── GET /stats?market= - статистика
//	├── /account
//	│   ├── GET /{trader}/balance - баланс кошелька
//	│   ├── POST /deposit - пополнить
//	│   └── POST /withdraw - вывести (подписанный)
//	└── /markets - рыночные данные
//
// /ws/stream - WebSocket для real-time обновлений
// /health - health check
// /metrics - Prometheus метрики
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. RateLimit (кроме /health и /metrics)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS(deps.Config.Server.Origins()))

	limiter := ratelimit.NewRateLimiter(
		float64(deps.Config.Server.RateLimit),
		float64(deps.Config.Server.RateBurst),
	)
	router.Use(middleware.RateLimit(limiter))

	// Все handlers работают поверх одного TradingService
	orderHandler := handlers.NewOrderHandler(deps.Service)
	positionHandler := handlers.NewPositionHandler(deps.Service)
	accountHandler := handlers.NewAccountHandler(deps.Service)
	marketHandler := handlers.NewMarketHandler(deps.Service)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Order routes
	api.HandleFunc("/orders", orderHandler.CreateOrder).Methods("POST")
	api.HandleFunc("/orders", orderHandler.GetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", orderHandler.CancelOrder).Methods("DELETE")
	api.HandleFunc("/orderbook/{market}", orderHandler.GetOrderbook).Methods("GET")
	api.HandleFunc("/trades/{market}", orderHandler.GetTrades).Methods("GET")

	// Position routes
	api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
	api.HandleFunc("/positions/{id}/close", positionHandler.ClosePosition).Methods("POST")
	api.HandleFunc("/positions/{id}", positionHandler.UpdatePosition).Methods("PATCH")
	api.HandleFunc("/liquidations", positionHandler.GetLiquidations).Methods("GET")
	api.HandleFunc("/liquidations/stats", positionHandler.GetLiquidationStats).Methods("GET")

	// Account routes
	api.HandleFunc("/account/{trader}/balance", accountHandler.GetBalance).Methods("GET")
	api.HandleFunc("/account/deposit", accountHandler.Deposit).Methods("POST")
	api.HandleFunc("/account/withdraw", accountHandler.Withdraw).Methods("POST")

	// Market routes
	api.HandleFunc("/markets", marketHandler.GetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", marketHandler.GetMarket).Methods("GET")

	// WebSocket route
	if deps.Hub != nil {
		upgrader := ws.Upgrader(deps.Config.Server.Origins())
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS(upgrader))
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
