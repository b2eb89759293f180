package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perpdex/internal/models"
	"perpdex/pkg/logger"
	"perpdex/pkg/utils"
)

// PriceSource отдаёт последнюю известную цену рынка (0 = цены нет)
type PriceSource interface {
	GetPrice(market string) float64
}

// LiquidationMonitor по фиксированному интервалу сканирует открытые
// позиции против текущей цены и принудительно закрывает пробитые.
//
// Ликвидация безусловна: без retry, без частичного закрытия,
// без grace period.
type LiquidationMonitor struct {
	ledger      *PositionLedger
	feed        PriceSource
	broadcaster Broadcaster
	interval    time.Duration
	feeRate     float64 // liquidationFeeRate
	log         *logger.Logger

	mu      sync.Mutex
	records []*models.Liquidation // append-only журнал
}

// NewLiquidationMonitor создает монитор ликвидаций
func NewLiquidationMonitor(ledger *PositionLedger, feed PriceSource, broadcaster Broadcaster, interval time.Duration, feeRate float64, log *logger.Logger) *LiquidationMonitor {
	if log == nil {
		log = logger.Nop()
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &LiquidationMonitor{
		ledger:      ledger,
		feed:        feed,
		broadcaster: broadcaster,
		interval:    interval,
		feeRate:     feeRate,
		log:         log,
	}
}

// Run крутит цикл проверок до отмены контекста
func (lm *LiquidationMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(lm.interval)
	defer ticker.Stop()

	lm.log.Info("liquidation monitor started", zap.Duration("interval", lm.interval))

	for {
		select {
		case <-ctx.Done():
			lm.log.Info("liquidation monitor stopped")
			return
		case <-ticker.C:
			lm.Sweep()
		}
	}
}

// Sweep делает один проход по всем открытым позициям.
// Возвращает количество выполненных ликвидаций.
func (lm *LiquidationMonitor) Sweep() int {
	start := time.Now()
	liquidated := 0

	for _, position := range lm.ledger.OpenPositionsSnapshot() {
		currentPrice := lm.feed.GetPrice(position.Market)
		if currentPrice == 0 {
			// Рынок ещё не оценён - пропускаем, не ликвидируем вслепую
			continue
		}

		if !ShouldLiquidate(position, currentPrice) {
			continue
		}

		if lm.liquidate(position, currentPrice) {
			liquidated++
		}
	}

	LiquidationSweepLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return liquidated
}

// ShouldLiquidate проверяет пробита ли цена ликвидации:
// LONG ликвидируется при currentPrice <= liquidationPrice,
// SHORT - при currentPrice >= liquidationPrice.
func ShouldLiquidate(position *models.Position, currentPrice float64) bool {
	if position.Side == models.SideLong {
		return currentPrice <= position.LiquidationPrice
	}
	return currentPrice >= position.LiquidationPrice
}

// liquidate закрывает позицию целиком и пишет запись в журнал.
// Сбой здесь фатален для позиции: молча потерянная ликвидация
// ломает платёжеспособность биржи, поэтому логируем громко.
func (lm *LiquidationMonitor) liquidate(position *models.Position, currentPrice float64) bool {
	_, pnl, err := lm.ledger.Liquidate(position.PositionID, currentPrice)
	if err != nil {
		lm.log.Error("LIQUIDATION FAILED - ledger inconsistency",
			zap.String("position_id", position.PositionID),
			zap.String("trader", position.Trader),
			zap.String("market", position.Market),
			zap.Float64("current_price", currentPrice),
			zap.Error(err),
		)
		return false
	}

	loss := utils.Abs(pnl) + position.Size*lm.feeRate

	record := &models.Liquidation{
		LiquidationID:    uuid.NewString(),
		PositionID:       position.PositionID,
		Trader:           position.Trader,
		Market:           position.Market,
		Side:             position.Side,
		Size:             position.Size,
		EntryPrice:       position.EntryPrice,
		LiquidationPrice: position.LiquidationPrice,
		ActualPrice:      currentPrice,
		Loss:             loss,
		Timestamp:        time.Now(),
	}

	lm.mu.Lock()
	lm.records = append(lm.records, record)
	lm.mu.Unlock()

	RecordLiquidation(position.Market, position.Side, loss)

	lm.log.Warn("position liquidated",
		zap.String("position_id", position.PositionID),
		zap.String("trader", position.Trader),
		zap.String("market", position.Market),
		zap.String("side", position.Side),
		zap.Float64("entry_price", position.EntryPrice),
		zap.Float64("liquidation_price", position.LiquidationPrice),
		zap.Float64("actual_price", currentPrice),
		zap.Float64("loss", loss),
	)

	lm.broadcaster.BroadcastLiquidation(record)

	return true
}

// GetLiquidations возвращает последние записи журнала, новые первыми.
// Пустой trader = без фильтра.
func (lm *LiquidationMonitor) GetLiquidations(trader string, limit int) []*models.Liquidation {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var out []*models.Liquidation
	for i := len(lm.records) - 1; i >= 0; i-- {
		r := lm.records[i]
		if trader != "" && r.Trader != trader {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetStats агрегирует журнал ликвидаций.
// Пустой market = статистика по всем рынкам.
func (lm *LiquidationMonitor) GetStats(market string) *models.LiquidationStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	stats := &models.LiquidationStats{Market: market}
	if market == "" {
		stats.Market = "ALL"
	}

	for _, r := range lm.records {
		if market != "" && r.Market != market {
			continue
		}
		stats.TotalLiquidations++
		stats.TotalLoss += r.Loss
		if r.Side == models.SideLong {
			stats.LongLiquidations++
		} else {
			stats.ShortLiquidations++
		}
	}

	if stats.TotalLiquidations > 0 {
		stats.AvgLoss = stats.TotalLoss / float64(stats.TotalLiquidations)
	}
	return stats
}
