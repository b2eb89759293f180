package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"perpdex/internal/models"
)

// Лимит выдачи ликвидаций по умолчанию
const defaultLiquidationsLimit = 50

// PositionService - операции с позициями, нужные HTTP слою
type PositionService interface {
	GetTraderPositions(trader, market string) ([]*models.Position, error)
	ClosePosition(positionID, trader string, percentage float64, sig string) (*models.Position, error)
	UpdatePosition(positionID, trader string, stopLoss, takeProfit *float64) (*models.Position, error)
	GetLiquidations(trader string, limit int) []*models.Liquidation
	GetLiquidationStats(market string) *models.LiquidationStats
}

// PositionHandler обрабатывает HTTP запросы для позиций и ликвидаций.
//
// Endpoints:
// - GET /api/v1/positions?trader=0x..&market=BTC-USDC - позиции трейдера
// - POST /api/v1/positions/{id}/close - закрыть позицию (подписанный)
// - PATCH /api/v1/positions/{id} - обновить SL/TP
// - GET /api/v1/liquidations?trader=0x..&limit=50 - журнал ликвидаций
// - GET /api/v1/liquidations/stats?market=BTC-USDC - статистика ликвидаций
type PositionHandler struct {
	positions PositionService
}

// NewPositionHandler создает новый PositionHandler с внедрением зависимостей.
func NewPositionHandler(positions PositionService) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// ClosePositionRequest - тело запроса закрытия позиции.
// Percentage 0 или отсутствие поля означает полное закрытие.
type ClosePositionRequest struct {
	Trader     string  `json:"trader"`
	Percentage float64 `json:"percentage,omitempty"`
	Signature  string  `json:"signature"`
}

// UpdatePositionRequest - тело запроса обновления SL/TP.
// null снимает соответствующий уровень.
type UpdatePositionRequest struct {
	Trader     string   `json:"trader"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

// GetPositions возвращает открытые позиции трейдера.
//
// GET /api/v1/positions?trader=0x..&market=BTC-USDC
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		respondWithError(w, http.StatusBadRequest, "missing_trader", "trader query parameter is required", "")
		return
	}

	positions, err := h.positions.GetTraderPositions(trader, r.URL.Query().Get("market"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if positions == nil {
		positions = []*models.Position{}
	}
	respondWithJSON(w, http.StatusOK, positions)
}

// ClosePosition закрывает позицию (полностью или частично) по текущей
// рыночной цене.
//
// POST /api/v1/positions/{id}/close
//
// Response 200 OK: снапшот позиции на момент закрытия с реализованным PnL
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := mux.Vars(r)["id"]

	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	position, err := h.positions.ClosePosition(positionID, req.Trader, req.Percentage, req.Signature)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, position)
}

// UpdatePosition обновляет stop loss / take profit позиции.
//
// PATCH /api/v1/positions/{id}
func (h *PositionHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	positionID := mux.Vars(r)["id"]

	var req UpdatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	position, err := h.positions.UpdatePosition(positionID, req.Trader, req.StopLoss, req.TakeProfit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, position)
}

// GetLiquidations возвращает журнал ликвидаций.
//
// GET /api/v1/liquidations?trader=0x..&limit=50
//
// trader пустой - ликвидации всех трейдеров.
func (h *PositionHandler) GetLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := defaultLiquidationsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive number", "")
			return
		}
		limit = parsed
	}

	liquidations := h.positions.GetLiquidations(r.URL.Query().Get("trader"), limit)
	if liquidations == nil {
		liquidations = []*models.Liquidation{}
	}
	respondWithJSON(w, http.StatusOK, liquidations)
}

// GetLiquidationStats возвращает агрегированную статистику ликвидаций.
//
// GET /api/v1/liquidations/stats?market=BTC-USDC
//
// market пустой - статистика по всем рынкам (market="ALL" в ответе).
func (h *PositionHandler) GetLiquidationStats(w http.ResponseWriter, r *http.Request) {
	stats := h.positions.GetLiquidationStats(r.URL.Query().Get("market"))
	respondWithJSON(w, http.StatusOK, stats)
}
