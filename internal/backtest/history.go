// internal/backtest/history.go
package backtest

import (
	"context"
	"fmt"
	"time"

	"crypto-phase-trading-bot/internal/infrastructure/api/exchanges/bybit"
	"crypto-phase-trading-bot/internal/infrastructure/persistence/redis_storage"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
	"crypto-phase-trading-bot/pkg/period"
)

// HistorySource - источник исторических свечей для реплея.
// Реализации: биржевой API, ClickHouse, кэширующая обертка.
type HistorySource interface {
	Candles(ctx context.Context, symbol types.Symbol, resolution string, from, to time.Time) ([]types.Candle, error)
}

// BybitSource - история через REST API биржи с постраничной загрузкой
type BybitSource struct {
	client *bybit.Client
	// свечей на страницу, лимит Bybit - 1000
	pageSize int
}

// NewBybitSource создает источник истории поверх REST-клиента
func NewBybitSource(client *bybit.Client) *BybitSource {
	return &BybitSource{client: client, pageSize: 1000}
}

// Candles загружает свечи постранично, от старых к новым
func (s *BybitSource) Candles(ctx context.Context, symbol types.Symbol, resolution string, from, to time.Time) ([]types.Candle, error) {
	minutes, err := period.StringToMinutes(resolution)
	if err != nil {
		return nil, fmt.Errorf("BybitSource.Candles: %w", err)
	}
	step := time.Duration(minutes) * time.Minute

	var all []types.Candle
	cursor := from

	for cursor.Before(to) {
		pageEnd := cursor.Add(step * time.Duration(s.pageSize))
		if pageEnd.After(to) {
			pageEnd = to
		}

		page, err := s.client.GetKlines(ctx, symbol, resolution, cursor, pageEnd, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("BybitSource.Candles: %w", err)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		next := page[len(page)-1].StartTime.Add(step)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}

	return all, nil
}

// CachedSource - кэширующая обертка: сперва Redis, затем источник
type CachedSource struct {
	cache *redis_storage.CandleCache
	inner HistorySource
}

// NewCachedSource оборачивает источник кэшем свечей
func NewCachedSource(cache *redis_storage.CandleCache, inner HistorySource) *CachedSource {
	return &CachedSource{cache: cache, inner: inner}
}

// Candles возвращает свечи из кэша или загружает и кэширует
func (s *CachedSource) Candles(ctx context.Context, symbol types.Symbol, resolution string, from, to time.Time) ([]types.Candle, error) {
	if candles, ok := s.cache.Get(ctx, symbol, from, to, resolution); ok {
		logger.Debug("📦 %s: %d свечей из кэша", symbol, len(candles))
		return candles, nil
	}

	candles, err := s.inner.Candles(ctx, symbol, resolution, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, symbol, from, to, resolution, candles); err != nil {
		logger.Warn("⚠️ %s: свечи не закэшированы: %v", symbol, err)
	}
	return candles, nil
}

// QualityReport - счетчики качества исторических данных
type QualityReport struct {
	Total      int // свечей получено
	Gaps       int // пропущенных бакетов
	Duplicates int // дубликатов или нарушений порядка
}

// CheckQuality проверяет непрерывность ряда свечей: считает дыры
// по ожидаемому шагу и дубликаты бакетов. Данные не чинятся, только
// считаются - решение о пригодности за вызывающим.
func CheckQuality(candles []types.Candle, resolution string) QualityReport {
	report := QualityReport{Total: len(candles)}

	if len(candles) < 2 {
		return report
	}
	step := period.ToDuration(resolution)

	for i := 1; i < len(candles); i++ {
		diff := candles[i].StartTime.Sub(candles[i-1].StartTime)
		switch {
		case diff <= 0:
			report.Duplicates++
		case diff > step:
			report.Gaps += int(diff/step) - 1
		}
	}

	return report
}
