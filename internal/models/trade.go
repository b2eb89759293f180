package models

import "time"

// Trade представляет исполненный матч двух сторон
//
// Запись неизменяемая: после создания попадает в журнал сделок рынка
// и больше не мутирует.
type Trade struct {
	TradeID     string    `json:"trade_id"`
	Market      string    `json:"market"`
	Price       float64   `json:"price"` // цена уровня, по которому прошёл матч
	Size        float64   `json:"size"`  // размер в USD
	Side        string    `json:"side"`  // сторона агрессора (taker)
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Fee         float64   `json:"fee"` // taker fee
	Timestamp   time.Time `json:"timestamp"`
}

// Книга агрегирует отстаивающиеся ордера по ценовым уровням, поэтому
// идентичность пассивной стороны внутри уровня не сохраняется.
// Для таких сделок контрагент помечается агрегатом книги.
const (
	MatchedOrderID = "matched"
	MatchedTrader  = "matched_trader"
)

// Orderbook представляет срез книги ордеров одного рынка
type Orderbook struct {
	Market    string            `json:"market"`
	Bids      []*OrderbookLevel `json:"bids"` // заявки LONG, цена по убыванию
	Asks      []*OrderbookLevel `json:"asks"` // заявки SHORT, цена по возрастанию
	LastPrice float64           `json:"last_price"`
	Timestamp time.Time         `json:"timestamp"`
}

// OrderbookLevel представляет агрегированную ликвидность на одной цене
type OrderbookLevel struct {
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`   // суммарный размер в USD
	Orders int     `json:"orders"` // количество ордеров на уровне
}
