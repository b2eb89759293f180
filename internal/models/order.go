package models

import "time"

// Order представляет ордер трейдера
type Order struct {
	OrderID       string     `json:"order_id"`
	Trader        string     `json:"trader"` // Ethereum адрес
	Market        string     `json:"market"` // BTC-USDC, ETH-USDC, ...
	Side          string     `json:"side"`   // LONG, SHORT
	Type          string     `json:"type"`   // MARKET, LIMIT, STOP_LOSS, TAKE_PROFIT
	Size          float64    `json:"size"`   // размер в USD
	Price         *float64   `json:"price,omitempty"`         // лимитная цена (только LIMIT)
	TriggerPrice  *float64   `json:"trigger_price,omitempty"` // цена активации (STOP_LOSS/TAKE_PROFIT)
	Leverage      int        `json:"leverage"`
	MarginType    string     `json:"margin_type"` // ISOLATED, CROSS
	Status        string     `json:"status"`
	FilledSize    float64    `json:"filled_size"`
	RemainingSize float64    `json:"remaining_size"`
	Fee           float64    `json:"fee"`
	Signature     string     `json:"signature"` // ECDSA подпись трейдера
	Timestamp     time.Time  `json:"timestamp"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Стороны ордера/позиции
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Типы ордеров
const (
	OrderTypeMarket     = "MARKET"
	OrderTypeLimit      = "LIMIT"
	OrderTypeStopLoss   = "STOP_LOSS"
	OrderTypeTakeProfit = "TAKE_PROFIT"
)

// Статусы ордера
const (
	OrderStatusPending         = "PENDING"
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusExpired         = "EXPIRED"
)

// Типы маржи
const (
	MarginTypeIsolated = "ISOLATED"
	MarginTypeCross    = "CROSS"
)

// IsActive возвращает true если ордер ещё живой (может исполниться)
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// IsTerminal возвращает true если ордер достиг конечного статуса
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// IsExpiredAt проверяет истёк ли срок жизни ордера к моменту t
func (o *Order) IsExpiredAt(t time.Time) bool {
	return o.ExpiresAt != nil && t.After(*o.ExpiresAt)
}

// OppositeSide возвращает противоположную сторону
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}
