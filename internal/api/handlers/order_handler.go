package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"perpdex/internal/models"
	"perpdex/internal/service"
)

// OrderService - операции с ордерами, нужные HTTP слою
type OrderService interface {
	CreateOrder(params service.CreateOrderParams) (*service.CreateOrderResult, error)
	CancelOrder(orderID, trader, sig string) (bool, error)
	GetTraderOrders(trader, market string, activeOnly bool) ([]*models.Order, error)
	GetOrderbook(market string, depth int) (*models.Orderbook, error)
	GetRecentTrades(market string, limit int) ([]*models.Trade, error)
}

// OrderHandler обрабатывает HTTP запросы для ордеров и стакана.
//
// Endpoints:
// - POST /api/v1/orders - создать ордер (подписанный)
// - DELETE /api/v1/orders/{id} - отменить ордер (подписанный)
// - GET /api/v1/orders?trader=0x..&market=BTC-USDC&active=true - ордера трейдера
// - GET /api/v1/orderbook/{market}?depth=20 - снапшот стакана
// - GET /api/v1/trades/{market}?limit=50 - последние сделки
type OrderHandler struct {
	orders OrderService
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимостей.
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrderRequest - тело запроса создания ордера.
// OrderID генерирует клиент: он входит в подписываемое сообщение.
type CreateOrderRequest struct {
	OrderID      string   `json:"order_id"`
	Trader       string   `json:"trader"`
	Market       string   `json:"market"`
	Side         string   `json:"side"`
	Type         string   `json:"type"`
	Size         float64  `json:"size"`
	Price        *float64 `json:"price,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	Leverage     int      `json:"leverage"`
	MarginType   string   `json:"margin_type,omitempty"`
	Signature    string   `json:"signature"`
}

// CancelOrderRequest - тело запроса отмены ордера
type CancelOrderRequest struct {
	Trader    string `json:"trader"`
	Signature string `json:"signature"`
}

// CancelOrderResponse - результат отмены
type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
}

// CreateOrder создает новый ордер.
//
// POST /api/v1/orders
//
// Response 201 Created:
//
//	{
//	  "order": {"order_id": "...", "status": "FILLED", ...},
//	  "trades": [{"trade_id": "...", "price": 45000, "size": 1000, ...}]
//	}
//
// Response 400/401/404/422 - см. handleServiceError
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	result, err := h.orders.CreateOrder(service.CreateOrderParams{
		OrderID:      req.OrderID,
		Trader:       req.Trader,
		Market:       req.Market,
		Side:         req.Side,
		Type:         req.Type,
		Size:         req.Size,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Leverage:     req.Leverage,
		MarginType:   req.MarginType,
		Signature:    req.Signature,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

// CancelOrder отменяет ордер.
//
// DELETE /api/v1/orders/{id}
//
// Повторная отмена и неизвестный id дают cancelled=false, не ошибку:
// отмена идемпотентна.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	cancelled, err := h.orders.CancelOrder(orderID, req.Trader, req.Signature)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID:   orderID,
		Cancelled: cancelled,
	})
}

// GetOrders возвращает ордера трейдера.
//
// GET /api/v1/orders?trader=0x..&market=BTC-USDC&active=true
//
// market пустой - по всем рынкам, active=true - только открытые.
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		respondWithError(w, http.StatusBadRequest, "missing_trader", "trader query parameter is required", "")
		return
	}

	market := r.URL.Query().Get("market")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	orders, err := h.orders.GetTraderOrders(trader, market, activeOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if orders == nil {
		orders = []*models.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

// GetOrderbook возвращает снапшот стакана.
//
// GET /api/v1/orderbook/{market}?depth=20
func (h *OrderHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]

	depth := service.DefaultOrderbookDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_depth", "depth must be a positive number", "")
			return
		}
		depth = parsed
	}

	ob, err := h.orders.GetOrderbook(market, depth)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ob)
}

// GetTrades возвращает последние сделки рынка.
//
// GET /api/v1/trades/{market}?limit=50
func (h *OrderHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]

	limit := service.DefaultTradesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive number", "")
			return
		}
		limit = parsed
	}

	trades, err := h.orders.GetRecentTrades(market, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if trades == nil {
		trades = []*models.Trade{}
	}
	respondWithJSON(w, http.StatusOK, trades)
}
