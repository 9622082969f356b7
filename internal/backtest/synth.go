// internal/backtest/synth.go
package backtest

import (
	"time"

	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/period"
)

// oiBaseVolumes - во сколько средних объемов свечи оценивается
// стартовый открытый интерес при синтезе
const oiBaseVolumes = 100

// synthesizer восстанавливает рыночные снапшоты из исторических свечей.
// Лента сделок и история OI в реплее недоступны, поэтому поток и
// интерес аппроксимируются из OHLCV:
//   - CVD короткого окна ~ знаковый оборот свечи (объем * цена со
//     знаком направления тела);
//   - OI ~ база плюс накопленный знаковый объем, база калибруется
//     по среднему объему ряда.
//
// Funding в реплее всегда нулевой.
type synthesizer struct {
	resolution string
	oi         float64
	primed     bool
}

func newSynthesizer(resolution string) *synthesizer {
	return &synthesizer{resolution: resolution}
}

// prime калибрует стартовый OI по среднему объему ряда
func (s *synthesizer) prime(candles []types.Candle) {
	if s.primed || len(candles) == 0 {
		return
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	s.oi = total / float64(len(candles)) * oiBaseVolumes
	s.primed = true
}

// Snapshot синтезирует снапшот на момент закрытия свечи
func (s *synthesizer) Snapshot(c types.Candle) types.MarketSnapshot {
	signed := c.Volume
	if c.Close < c.Open {
		signed = -signed
	} else if c.Close == c.Open {
		signed = 0
	}

	s.oi += signed
	if s.oi < 0 {
		s.oi = 0
	}

	return types.MarketSnapshot{
		Symbol:       c.Symbol,
		Price:        c.Close,
		Volume24h:    c.Volume,
		OpenInterest: s.oi,
		FundingRate:  0,
		Timestamp:    bucketEnd(c, s.resolution),
		CVDShort:     signed * c.Close,
		VolumeDelta:  c.Volume,
	}
}

// bucketEnd возвращает момент закрытия бакета свечи
func bucketEnd(c types.Candle, resolution string) time.Time {
	if !c.EndTime.IsZero() {
		return c.EndTime
	}
	return c.StartTime.Add(period.ToDuration(resolution))
}

// SnapshotsFromCandles синтезирует снапшоты для целого ряда свечей.
// Индексы результата совпадают с индексами входа.
func SnapshotsFromCandles(candles []types.Candle, resolution string) []types.MarketSnapshot {
	s := newSynthesizer(resolution)
	s.prime(candles)

	snaps := make([]types.MarketSnapshot, len(candles))
	for i, c := range candles {
		snaps[i] = s.Snapshot(c)
	}
	return snaps
}
