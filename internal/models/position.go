package models

import "time"

// Position представляет открытую позицию трейдера в одном рынке
//
// Инварианты:
//   - margin = size / leverage в момент открытия
//   - liquidationPrice всегда заполнен для открытой позиции
//   - одна позиция на (trader, market, side): одноимённые исполнения
//     сливаются по средневзвешенной цене входа
type Position struct {
	PositionID       string    `json:"position_id"`
	Trader           string    `json:"trader"`
	Market           string    `json:"market"`
	Side             string    `json:"side"` // LONG, SHORT
	Size             float64   `json:"size"` // размер в USD
	EntryPrice       float64   `json:"entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	Leverage         int       `json:"leverage"`
	MarginType       string    `json:"margin_type"`
	Margin           float64   `json:"margin"` // зарезервированный капитал
	Pnl              float64   `json:"pnl"`    // нереализованный PnL
	PnlPercentage    float64   `json:"pnl_percentage"`
	LiquidationPrice float64   `json:"liquidation_price"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	TakeProfit       *float64  `json:"take_profit,omitempty"`
	Fee              float64   `json:"fee"`
	FundingRate      float64   `json:"funding_rate"` // зарезервировано, начисление не реализовано
	Timestamp        time.Time `json:"timestamp"`
}

// SideSign возвращает знак стороны для расчёта PnL: +1 LONG, -1 SHORT
func (p *Position) SideSign() float64 {
	if p.Side == SideLong {
		return 1
	}
	return -1
}

// TraderBalance представляет кошелёк трейдера в USDC
//
// Инвариант: availableBalance + usedMargin == totalBalance
// (нереализованный PnL учитывается отдельно).
type TraderBalance struct {
	Trader           string  `json:"trader"`
	TotalBalance     float64 `json:"total_balance"`
	AvailableBalance float64 `json:"available_balance"`
	UsedMargin       float64 `json:"used_margin"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	TotalPnl         float64 `json:"total_pnl"` // накопленный реализованный PnL
}
