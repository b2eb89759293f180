package utils

import (
	"math"
)

// math.go - математические утилиты для торгового ядра
//
// Все функции чистые (pure functions) без побочных эффектов.

// RoundToTickSize округляет цену до ближайшего кратного tickSize.
//
// Используется для нормализации лимитных цен к шагу цены рынка.
// Если tickSize <= 0, возвращает исходное значение.
//
// Примеры:
//   - RoundToTickSize(45000.3, 0.5) = 45000.5
//   - RoundToTickSize(2500.04, 0.1) = 2500.0
func RoundToTickSize(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}

// RoundToTickSizeDown округляет цену ВНИЗ до кратного tickSize.
//
// Округление вниз безопаснее для бида: не перебьём собственный лимит.
func RoundToTickSizeDown(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Floor(price/tickSize) * tickSize
}

// WeightedAverage возвращает средневзвешенное двух цен по их весам.
//
// Используется при слиянии одноимённых исполнений в одну позицию:
// entry = WeightedAverage(oldEntry, oldSize, fillPrice, fillSize).
//
// Если суммарный вес нулевой, возвращает 0.
func WeightedAverage(price1, weight1, price2, weight2 float64) float64 {
	total := weight1 + weight2
	if total == 0 {
		return 0
	}
	return (price1*weight1 + price2*weight2) / total
}

// PercentChange возвращает изменение от oldValue к newValue в процентах.
//
// Если oldValue == 0, возвращает 0 (нет базы для сравнения).
func PercentChange(oldValue, newValue float64) float64 {
	if oldValue == 0 {
		return 0
	}
	return (newValue - oldValue) / oldValue * 100
}

// Abs возвращает модуль числа
func Abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
