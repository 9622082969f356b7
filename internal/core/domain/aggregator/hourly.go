// internal/core/domain/aggregator/hourly.go
package aggregator

import (
	"sort"

	"crypto-phase-trading-bot/internal/types"
)

// HourlySeries - медленный агрегатор более крупного периода.
// В отличие от SeriesState он не тикается инкрементально, а перестраивается
// целиком из готового списка свечей при периодическом обновлении.
type HourlySeries struct {
	symbol  string
	period  string
	limit   int
	candles []types.Candle
}

// NewHourlySeries создает пустую медленную серию
func NewHourlySeries(symbol, candlePeriod string, limit int) *HourlySeries {
	if limit <= 0 {
		limit = 200
	}
	return &HourlySeries{
		symbol: symbol,
		period: candlePeriod,
		limit:  limit,
	}
}

// RebuildFromCandles перестраивает серию целиком из списка свечей:
// сортировка по времени, фильтрация дубликатов, обрезка до лимита
func (h *HourlySeries) RebuildFromCandles(candles []types.Candle) {
	sorted := make([]types.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Open > 0 {
			sorted = append(sorted, c)
		}
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	deduped := sorted[:0]
	for i, c := range sorted {
		if i > 0 && !c.StartTime.After(deduped[len(deduped)-1].StartTime) {
			continue
		}
		deduped = append(deduped, c)
	}

	if len(deduped) > h.limit {
		deduped = deduped[len(deduped)-h.limit:]
	}

	h.candles = append(h.candles[:0], deduped...)
}

// Closes возвращает цены закрытия (старые -> новые)
func (h *HourlySeries) Closes() []float64 {
	closes := make([]float64, len(h.candles))
	for i, c := range h.candles {
		closes[i] = c.Close
	}
	return closes
}

// Candles возвращает свечи серии
func (h *HourlySeries) Candles() []types.Candle {
	return h.candles
}

// Len возвращает количество свечей в серии
func (h *HourlySeries) Len() int {
	return len(h.candles)
}
