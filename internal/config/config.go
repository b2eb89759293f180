package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"perpdex/internal/models"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server  ServerConfig
	Trading TradingConfig
	Oracle  OracleConfig
	Logging LoggingConfig
	Markets []models.Market
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  string // "*" или список через запятую
	RateLimit       int    // запросов в секунду на клиента
	RateBurst       int
}

// Origins возвращает список разрешённых origins.
// nil означает "разрешены все" ("*" или пустое значение).
func (s ServerConfig) Origins() []string {
	raw := strings.TrimSpace(s.AllowedOrigins)
	if raw == "" || raw == "*" {
		return nil
	}

	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// TradingConfig - параметры торгового движка
type TradingConfig struct {
	// Комиссии (доли от нотионала)
	MakerFeeRate       float64
	TakerFeeRate       float64
	LiquidationFeeRate float64

	// Риск-параметры
	MaintenanceMarginRatio float64
	LiquidationBuffer      float64

	// Лимиты ордеров (нотионал в USD)
	MinOrderSize float64
	MaxOrderSize float64

	// Срок жизни лимитных ордеров
	OrderExpiry time.Duration

	// Периодические задачи
	PriceUpdateInterval time.Duration
	LiquidationInterval time.Duration
	OrderExpiryInterval time.Duration
}

// OracleConfig - настройки источника цен
type OracleConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Enabled        bool // false = только симуляция случайного блуждания
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "*"),
			RateLimit:       getEnvAsInt("RATE_LIMIT_RPS", 50),
			RateBurst:       getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Trading: TradingConfig{
			MakerFeeRate:       getEnvAsFloat("MAKER_FEE_RATE", 0.0002),
			TakerFeeRate:       getEnvAsFloat("TAKER_FEE_RATE", 0.0005),
			LiquidationFeeRate: getEnvAsFloat("LIQUIDATION_FEE_RATE", 0.005),

			MaintenanceMarginRatio: getEnvAsFloat("MAINTENANCE_MARGIN_RATIO", 0.05),
			LiquidationBuffer:      getEnvAsFloat("LIQUIDATION_BUFFER", 0.01),

			MinOrderSize: getEnvAsFloat("MIN_ORDER_SIZE", 10),
			MaxOrderSize: getEnvAsFloat("MAX_ORDER_SIZE", 1_000_000),

			OrderExpiry: getEnvAsDuration("ORDER_EXPIRY", 30*24*time.Hour),

			PriceUpdateInterval: getEnvAsDuration("PRICE_UPDATE_INTERVAL", 100*time.Millisecond),
			LiquidationInterval: getEnvAsDuration("LIQUIDATION_INTERVAL", 1*time.Second),
			OrderExpiryInterval: getEnvAsDuration("ORDER_EXPIRY_INTERVAL", 1*time.Minute),
		},
		Oracle: OracleConfig{
			BaseURL:        getEnv("ORACLE_BASE_URL", "https://api.binance.com"),
			RequestTimeout: getEnvAsDuration("ORACLE_REQUEST_TIMEOUT", 2*time.Second),
			Enabled:        getEnvAsBool("ORACLE_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Markets: DefaultMarkets(),
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultMarkets возвращает список поддерживаемых рынков
func DefaultMarkets() []models.Market {
	return []models.Market{
		{Symbol: "BTC-USDC", Name: "Bitcoin", MaxLeverage: 100, TickSize: 0.5, MinSize: 0.001, BasePrice: 45000},
		{Symbol: "ETH-USDC", Name: "Ethereum", MaxLeverage: 100, TickSize: 0.1, MinSize: 0.01, BasePrice: 2500},
		{Symbol: "SOL-USDC", Name: "Solana", MaxLeverage: 50, TickSize: 0.01, MinSize: 0.1, BasePrice: 100},
		{Symbol: "ARB-USDC", Name: "Arbitrum", MaxLeverage: 50, TickSize: 0.001, MinSize: 1, BasePrice: 1.5},
		{Symbol: "OP-USDC", Name: "Optimism", MaxLeverage: 50, TickSize: 0.001, MinSize: 1, BasePrice: 2.0},
	}
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Комиссии - доли, а не проценты
	if c.Trading.MakerFeeRate < 0 || c.Trading.MakerFeeRate >= 1 {
		return fmt.Errorf("MAKER_FEE_RATE must be in [0, 1), got %v", c.Trading.MakerFeeRate)
	}

	if c.Trading.TakerFeeRate < 0 || c.Trading.TakerFeeRate >= 1 {
		return fmt.Errorf("TAKER_FEE_RATE must be in [0, 1), got %v", c.Trading.TakerFeeRate)
	}

	if c.Trading.LiquidationFeeRate < 0 || c.Trading.LiquidationFeeRate >= 1 {
		return fmt.Errorf("LIQUIDATION_FEE_RATE must be in [0, 1), got %v", c.Trading.LiquidationFeeRate)
	}

	if c.Trading.MaintenanceMarginRatio <= 0 || c.Trading.MaintenanceMarginRatio >= 1 {
		return fmt.Errorf("MAINTENANCE_MARGIN_RATIO must be in (0, 1), got %v", c.Trading.MaintenanceMarginRatio)
	}

	if c.Trading.LiquidationBuffer < 0 || c.Trading.LiquidationBuffer >= 1 {
		return fmt.Errorf("LIQUIDATION_BUFFER must be in [0, 1), got %v", c.Trading.LiquidationBuffer)
	}

	// Лимиты ордеров
	if c.Trading.MinOrderSize <= 0 {
		return fmt.Errorf("MIN_ORDER_SIZE must be positive, got %v", c.Trading.MinOrderSize)
	}

	if c.Trading.MaxOrderSize <= c.Trading.MinOrderSize {
		return fmt.Errorf("MAX_ORDER_SIZE must exceed MIN_ORDER_SIZE, got %v", c.Trading.MaxOrderSize)
	}

	// Интервалы периодических задач
	if c.Trading.PriceUpdateInterval <= 0 {
		return fmt.Errorf("PRICE_UPDATE_INTERVAL must be positive, got %v", c.Trading.PriceUpdateInterval)
	}

	if c.Trading.LiquidationInterval <= 0 {
		return fmt.Errorf("LIQUIDATION_INTERVAL must be positive, got %v", c.Trading.LiquidationInterval)
	}

	if c.Trading.OrderExpiry <= 0 {
		return fmt.Errorf("ORDER_EXPIRY must be positive, got %v", c.Trading.OrderExpiry)
	}

	if c.Oracle.RequestTimeout <= 0 {
		return fmt.Errorf("ORACLE_REQUEST_TIMEOUT must be positive, got %v", c.Oracle.RequestTimeout)
	}

	if c.Server.RateLimit < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be at least 1, got %d", c.Server.RateLimit)
	}

	return nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
