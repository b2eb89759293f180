package models

// Market представляет торгуемый перпетуальный контракт
//
// Конфигурация статична: рынки загружаются при старте сервера
// и не меняются в runtime.
type Market struct {
	Symbol      string  `json:"symbol"`       // BTC-USDC, ETH-USDC, ...
	Name        string  `json:"name"`         // Bitcoin Perpetual
	MaxLeverage int     `json:"max_leverage"` // максимальное плечо (1x - 100x)
	TickSize    float64 `json:"tick_size"`    // минимальный шаг цены
	MinSize     float64 `json:"min_size"`     // минимальный размер ордера в USD
	BasePrice   float64 `json:"base_price"`   // стартовая цена для симулятора (нет оракула)
}

// MarketData представляет рыночные данные одного контракта
//
// Обновляется PriceFeed на каждом тике (oracle либо симулятор).
type MarketData struct {
	Market       string  `json:"market"`
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change_24h"` // изменение в %
	High24h      float64 `json:"high_24h"`
	Low24h       float64 `json:"low_24h"`
	Volume24h    float64 `json:"volume_24h"`
	FundingRate  float64 `json:"funding_rate"`  // зарезервировано, начисление не реализовано
	OpenInterest float64 `json:"open_interest"` // зарезервировано
	IndexPrice   float64 `json:"index_price"`   // цена оракула
	Timestamp    int64   `json:"timestamp"`     // unix millis
}
