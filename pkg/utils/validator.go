package utils

import (
	"errors"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных торгового API

// Ошибки валидации
var (
	ErrInvalidAddress = errors.New("invalid ethereum address")
	ErrInvalidSymbol  = errors.New("invalid market symbol format")
)

// addressPattern - Ethereum адрес: 0x + 40 hex символов
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// symbolPattern - символ рынка вида BTC-USDC (база-котировка, верхний регистр)
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}-[A-Z0-9]{2,10}$`)

// ValidateAddress проверяет формат Ethereum адреса трейдера
func ValidateAddress(addr string) error {
	if !addressPattern.MatchString(addr) {
		return ErrInvalidAddress
	}
	return nil
}

// ValidateMarketSymbol проверяет формат символа рынка (BTC-USDC)
func ValidateMarketSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return ErrInvalidSymbol
	}
	return nil
}

// NormalizeAddress приводит адрес к каноническому виду для ключей map
//
// Подписи сверяются без учёта регистра, поэтому все ключи -
// балансы, владельцы ордеров и позиций - хранятся в lower case.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
