// Package handlers - HTTP handlers торгового API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"perpdex/internal/engine"
	"perpdex/internal/service"
	"perpdex/pkg/utils"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ с указанным статусом
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError переводит ошибки сервиса в HTTP статусы
//
// Таксономия:
// - валидация -> 400
// - невалидная подпись -> 401
// - чужой ресурс -> 403
// - не найден -> 404
// - не хватает баланса -> 422
// - нет цены -> 503
// - всё остальное -> 500
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrMarketNotFound):
		respondWithError(w, http.StatusNotFound, "market_not_found", err.Error(), "")
	case errors.Is(err, service.ErrPositionNotFound):
		respondWithError(w, http.StatusNotFound, "position_not_found", err.Error(), "")
	case errors.Is(err, service.ErrInvalidSignature):
		respondWithError(w, http.StatusUnauthorized, "invalid_signature", err.Error(), "")
	case errors.Is(err, service.ErrNotOwner):
		respondWithError(w, http.StatusForbidden, "forbidden", err.Error(), "")
	case errors.Is(err, service.ErrInsufficientBalance):
		respondWithError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), "")
	case errors.Is(err, service.ErrPriceUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "price_unavailable", err.Error(), "")
	case errors.Is(err, service.ErrInvalidSide),
		errors.Is(err, service.ErrInvalidOrderType),
		errors.Is(err, service.ErrInvalidMarginType),
		errors.Is(err, service.ErrInvalidSize),
		errors.Is(err, service.ErrInvalidLeverage),
		errors.Is(err, service.ErrPriceRequired),
		errors.Is(err, service.ErrTriggerPriceRequired),
		errors.Is(err, service.ErrOrderIDRequired),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidPercentage),
		errors.Is(err, utils.ErrInvalidAddress),
		errors.Is(err, utils.ErrInvalidSymbol):
		respondWithError(w, http.StatusBadRequest, "validation_failed", err.Error(), "")
	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "internal server error", err.Error())
	}
}
