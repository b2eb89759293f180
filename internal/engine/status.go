// Package engine реализует ядро биржи: книги ордеров, леджер позиций,
// ценовой фид и монитор ликвидаций.
package engine

import (
	"fmt"

	"perpdex/internal/models"
)

// ValidTransitions определяет допустимые переходы статуса ордера
var ValidTransitions = map[string][]string{
	models.OrderStatusPending: {
		models.OrderStatusOpen,
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
	},
	models.OrderStatusOpen: {
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
	// FILLED, CANCELLED, EXPIRED - терминальные
}

// CanTransition проверяет допустимость перехода статуса
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionOrder переводит ордер в новый статус с проверкой допустимости
func TransitionOrder(o *models.Order, to string) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid order status transition %s -> %s for %s", o.Status, to, o.OrderID)
	}
	o.Status = to
	return nil
}

// StatusInfo возвращает описание статуса для UI
func StatusInfo(s string) string {
	switch s {
	case models.OrderStatusPending:
		return "Ордер принят, ожидает обработки"
	case models.OrderStatusOpen:
		return "Ордер в книге, ожидает исполнения"
	case models.OrderStatusPartiallyFilled:
		return "Ордер частично исполнен"
	case models.OrderStatusFilled:
		return "Ордер полностью исполнен"
	case models.OrderStatusCancelled:
		return "Ордер отменён"
	case models.OrderStatusExpired:
		return "Срок жизни ордера истёк"
	default:
		return "Неизвестный статус"
	}
}
