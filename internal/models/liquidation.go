package models

import "time"

// Liquidation представляет запись о принудительном закрытии позиции
//
// Создаётся только монитором ликвидаций. Журнал append-only.
type Liquidation struct {
	LiquidationID    string    `json:"liquidation_id"`
	PositionID       string    `json:"position_id"`
	Trader           string    `json:"trader"`
	Market           string    `json:"market"`
	Side             string    `json:"side"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	LiquidationPrice float64   `json:"liquidation_price"` // расчётный порог
	ActualPrice      float64   `json:"actual_price"`      // фактическая цена закрытия
	Loss             float64   `json:"loss"`              // |pnl| + size * liquidationFeeRate
	Timestamp        time.Time `json:"timestamp"`
}

// LiquidationStats агрегированная статистика по журналу ликвидаций
type LiquidationStats struct {
	TotalLiquidations int     `json:"total_liquidations"`
	TotalLoss         float64 `json:"total_loss"`
	AvgLoss           float64 `json:"avg_loss"`
	LongLiquidations  int     `json:"long_liquidations"`
	ShortLiquidations int     `json:"short_liquidations"`
	Market            string  `json:"market"` // "ALL" если без фильтра
}
