// internal/core/domain/aggregator/aggregator.go
package aggregator

import (
	"time"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/period"
)

// Config - конфигурация серии свечей одного символа
type Config struct {
	Period          string // период базовой свечи
	HistoryCap      int    // максимум закрытых свечей в истории (FIFO)
	ATRPeriod       int    // период сглаживания Уайлдера
	AvgVolumeWindow int    // окно среднего объема, в закрытых свечах
}

// SeriesState - скользящее состояние свечей одного символа.
// Текущая свеча мутабельна, история закрытых свечей ограничена по размеру.
// ATR и средний объем пересчитываются только при закрытии свечи.
type SeriesState struct {
	symbol string
	config Config

	current   *types.Candle
	history   []types.Candle
	atr       float64
	avgVolume float64

	// Накопление затравки ATR: простое среднее первых N истинных диапазонов
	trSeed   []float64
	atrReady bool
}

// NewSeriesState создает пустое состояние серии для символа
func NewSeriesState(symbol string, config Config) *SeriesState {
	if config.HistoryCap <= 0 {
		config.HistoryCap = 500
	}
	if config.ATRPeriod < 2 {
		config.ATRPeriod = 14
	}
	if config.AvgVolumeWindow <= 0 {
		config.AvgVolumeWindow = 20
	}
	if config.Period == "" {
		config.Period = period.Period1m
	}

	return &SeriesState{
		symbol:  symbol,
		config:  config,
		history: make([]types.Candle, 0, config.HistoryCap),
		trSeed:  make([]float64, 0, config.ATRPeriod),
	}
}

// IngestTick обновляет или перекатывает текущую свечу по тику цены.
// volume - объем, относимый к этому тику (0, если неизвестен).
func (s *SeriesState) IngestTick(price, volume float64, ts time.Time) {
	if price <= 0 {
		return
	}

	bucket := period.BucketStart(ts, s.config.Period)

	if s.current == nil {
		s.current = s.newCandle(price, volume, bucket, ts)
		return
	}

	if bucket.After(s.current.StartTime) {
		s.closeCurrent()
		s.current = s.newCandle(price, volume, bucket, ts)
		return
	}

	if bucket.Before(s.current.StartTime) {
		// Тик из прошлого бакета: поздние данные не переписывают историю
		return
	}

	c := s.current
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
	c.EndTime = ts
}

// IngestClosedCandle добавляет готовую закрытую свечу (исторический путь).
// Дубликаты по началу бакета отфильтровываются, не добавляются.
func (s *SeriesState) IngestClosedCandle(c types.Candle) {
	if n := len(s.history); n > 0 && !c.StartTime.After(s.history[n-1].StartTime) {
		return
	}

	c.IsClosed = true
	s.pushClosed(c)
}

// ATR возвращает текущее значение ATR (0 до накопления затравки)
func (s *SeriesState) ATR() float64 {
	if !s.atrReady {
		return 0
	}
	return s.atr
}

// ATRPercent возвращает ATR в процентах от цены (0 при отсутствии данных)
func (s *SeriesState) ATRPercent(price float64) float64 {
	if price <= 0 || !s.atrReady {
		return 0
	}
	return (s.atr / price) * 100
}

// AverageVolume возвращает средний объем последних закрытых свечей
func (s *SeriesState) AverageVolume() float64 {
	return s.avgVolume
}

// History возвращает закрытые свечи (старые -> новые)
func (s *SeriesState) History() []types.Candle {
	return s.history
}

// CurrentCandle возвращает текущую (незакрытую) свечу или nil
func (s *SeriesState) CurrentCandle() *types.Candle {
	return s.current
}

// Ready возвращает true, когда накоплено достаточно истории для индикаторов
func (s *SeriesState) Ready() bool {
	return s.atrReady && len(s.history) >= s.config.AvgVolumeWindow
}

// LastClose возвращает цену закрытия последней закрытой свечи (0 если нет)
func (s *SeriesState) LastClose() float64 {
	if len(s.history) == 0 {
		return 0
	}
	return s.history[len(s.history)-1].Close
}

// newCandle создает свежую свечу нового бакета
func (s *SeriesState) newCandle(price, volume float64, bucket, ts time.Time) *types.Candle {
	return &types.Candle{
		Symbol:    s.symbol,
		Period:    s.config.Period,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
		StartTime: bucket,
		EndTime:   ts,
	}
}

// closeCurrent закрывает текущую свечу и переносит её в историю
func (s *SeriesState) closeCurrent() {
	if s.current == nil {
		return
	}

	c := *s.current
	c.IsClosed = true
	s.current = nil
	s.pushClosed(c)
}

// pushClosed добавляет закрытую свечу, вытесняя самую старую при переполнении,
// и пересчитывает ATR и средний объем
func (s *SeriesState) pushClosed(c types.Candle) {
	prevClose := s.LastClose()

	s.history = append(s.history, c)
	if len(s.history) > s.config.HistoryCap {
		s.history = s.history[1:]
	}

	s.updateATR(c, prevClose)
	s.updateAvgVolume()
}

// updateATR обновляет ATR по Уайлдеру:
// затравка - простое среднее первых N истинных диапазонов,
// дальше atr = (atr*(N-1) + tr) / N
func (s *SeriesState) updateATR(c types.Candle, prevClose float64) {
	tr := c.TrueRange(prevClose)

	if !s.atrReady {
		s.trSeed = append(s.trSeed, tr)
		if len(s.trSeed) < s.config.ATRPeriod {
			return
		}

		var sum float64
		for _, v := range s.trSeed {
			sum += v
		}
		s.atr = sum / float64(len(s.trSeed))
		s.atrReady = true
		s.trSeed = nil
		return
	}

	n := float64(s.config.ATRPeriod)
	s.atr = (s.atr*(n-1) + tr) / n
}

// updateAvgVolume пересчитывает средний объем по последним K закрытым свечам
func (s *SeriesState) updateAvgVolume() {
	window := s.config.AvgVolumeWindow
	if len(s.history) < window {
		window = len(s.history)
	}
	if window == 0 {
		s.avgVolume = 0
		return
	}

	var sum float64
	for _, c := range s.history[len(s.history)-window:] {
		sum += c.Volume
	}
	s.avgVolume = sum / float64(window)
}
