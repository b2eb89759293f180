// Package service - бизнес-логика биржи поверх движка.
package service

import "errors"

// Ошибки торгового сервиса
//
// Таксономия: валидация и авторизация отклоняются синхронно и не
// ретраятся; ошибки состояния (не найден / не владелец / не хватает
// баланса) тоже. Сбои оракула сюда не попадают - фид гасит их
// симулятором.
var (
	// Валидация
	ErrMarketNotFound       = errors.New("market not supported")
	ErrInvalidSide          = errors.New("side must be LONG or SHORT")
	ErrInvalidOrderType     = errors.New("unsupported order type")
	ErrInvalidMarginType    = errors.New("margin type must be ISOLATED or CROSS")
	ErrInvalidSize          = errors.New("order size outside allowed limits")
	ErrInvalidLeverage      = errors.New("leverage exceeds market maximum")
	ErrPriceRequired        = errors.New("limit order requires a price")
	ErrTriggerPriceRequired = errors.New("stop order requires a trigger price")
	ErrOrderIDRequired      = errors.New("order id is required")
	ErrInvalidAmount        = errors.New("amount must be positive")

	// Авторизация: восстановление подписанта и несовпадение адреса
	// наружу не различаются
	ErrInvalidSignature = errors.New("invalid signature")

	// Состояние
	ErrPositionNotFound    = errors.New("position not found")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrPriceUnavailable    = errors.New("no price available for market")
)
