package signature

import (
	"strconv"
	"strings"
)

// Версия канонического формата сообщений. Меняется при любом изменении
// набора или порядка полей, чтобы старые подписи не проходили проверку
// против нового формата.
const messageVersion = "perpdex.v1"

// marketOrderPrice - плейсхолдер цены для рыночных ордеров
const marketOrderPrice = "market"

// OrderMessage строит каноническое сообщение для создания ордера.
// Клиент подписывает ровно эту строку; поля разделены '|', адрес
// трейдера приводится к нижнему регистру для стабильности.
func OrderMessage(orderID, trader, market, side string, size float64, price *float64, leverage int) string {
	priceStr := marketOrderPrice
	if price != nil {
		priceStr = formatAmount(*price)
	}

	return strings.Join([]string{
		messageVersion,
		"order",
		orderID,
		strings.ToLower(trader),
		market,
		side,
		formatAmount(size),
		priceStr,
		strconv.Itoa(leverage),
	}, "|")
}

// CancelMessage строит каноническое сообщение для отмены ордера
func CancelMessage(orderID string) string {
	return strings.Join([]string{messageVersion, "cancel", orderID}, "|")
}

// WithdrawMessage строит каноническое сообщение для вывода маржи.
// Nonce выбирает клиент; сервер не хранит использованные nonce,
// но включение его в подпись исключает слепое переиспользование.
func WithdrawMessage(trader string, amount float64, nonce string) string {
	return strings.Join([]string{
		messageVersion,
		"withdraw",
		strings.ToLower(trader),
		formatAmount(amount),
		nonce,
	}, "|")
}

// formatAmount форматирует число без хвостовых нулей,
// одинаково на любой платформе
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
