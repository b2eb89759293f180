package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"perpdex/internal/models"
)

// MarketService - рыночные данные, нужные HTTP слою
type MarketService interface {
	GetAllMarkets() []*models.MarketData
	GetMarketData(market string) (*models.MarketData, error)
}

// MarketHandler обрабатывает HTTP запросы для рыночных данных.
//
// Endpoints:
// - GET /api/v1/markets - данные всех рынков
// - GET /api/v1/markets/{symbol} - данные одного рынка
type MarketHandler struct {
	markets MarketService
}

// NewMarketHandler создает новый MarketHandler с внедрением зависимостей.
func NewMarketHandler(markets MarketService) *MarketHandler {
	return &MarketHandler{markets: markets}
}

// GetMarkets возвращает данные всех рынков в алфавитном порядке.
//
// GET /api/v1/markets
func (h *MarketHandler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.markets.GetAllMarkets()
	if markets == nil {
		markets = []*models.MarketData{}
	}
	respondWithJSON(w, http.StatusOK, markets)
}

// GetMarket возвращает данные одного рынка.
//
// GET /api/v1/markets/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	data, err := h.markets.GetMarketData(mux.Vars(r)["symbol"])
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, data)
}
