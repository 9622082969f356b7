// internal/backtest/replay.go
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crypto-phase-trading-bot/application/pipeline"
	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/types"
	"crypto-phase-trading-bot/pkg/logger"
	"crypto-phase-trading-bot/pkg/period"
)

// Stats - агрегированная статистика прогона
type Stats struct {
	Trades         int                       `json:"trades"`
	Wins           int                       `json:"wins"`
	Losses         int                       `json:"losses"`
	WinRate        float64                   `json:"win_rate"`
	PnLNet         float64                   `json:"pnl_net"`
	Fees           float64                   `json:"fees"`
	FinalEquity    float64                   `json:"final_equity"`
	MaxDrawdownPct float64                   `json:"max_drawdown_pct"`
	ByReason       map[types.CloseReason]int `json:"by_reason"`
}

// Report - результат прогона реплея
type Report struct {
	From        time.Time                      `json:"from"`
	To          time.Time                      `json:"to"`
	Trades      []types.ClosedTrade            `json:"trades"`
	EquityCurve []EquityPoint                  `json:"equity_curve"`
	Stats       Stats                          `json:"stats"`
	Quality     map[types.Symbol]QualityReport `json:"quality"`
}

// Runner - детерминированный реплей истории через боевой пайплайн.
// История прогоняется свеча за свечой в хронологическом порядке, на
// каждой свече сперва проверяются интрабарные касания стопа и тейка,
// затем пайплайн получает снапшот на момент закрытия свечи. Часовая
// серия наполняется по мере закрытия часов - будущие свечи пайплайну
// не видны.
type Runner struct {
	cfg    *config.Config
	source HistorySource
}

// NewRunner создает раннер реплея
func NewRunner(cfg *config.Config, source HistorySource) *Runner {
	return &Runner{cfg: cfg, source: source}
}

// replayEvent - одна свеча одного символа в общей хронологии
type replayEvent struct {
	candle types.Candle
	snap   types.MarketSnapshot
}

// hourlyAccum - накапливаемая часовая свеча одного символа
type hourlyAccum struct {
	bucket time.Time
	candle types.Candle
	closed []types.Candle
}

// Run прогоняет историю символов за период и возвращает отчет.
// Прогон детерминирован: один и тот же вход дает одинаковый отчет.
func (r *Runner) Run(ctx context.Context, symbols []types.Symbol, from, to time.Time) (*Report, error) {
	resolution := r.cfg.ReplayResolution
	step := period.ToDuration(resolution)

	// Пайплайн реплея живет на копии конфига: тик равен шагу свечи,
	// торговля всегда включена
	rcfg := *r.cfg
	rcfg.TickInterval = step
	rcfg.CandlePeriod = resolution
	rcfg.TradingEnabled = true

	events, quality, err := r.load(ctx, symbols, resolution, from, to)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("Runner.Run: история пуста за %s - %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	sim := NewSimulator(SimConfig{
		InitialEquity: r.cfg.InitialEquity,
		RiskPerTrade:  r.cfg.RiskPerTrade,
		TakerFeeRate:  r.cfg.TakerFeeRate,
	})
	pipe := pipeline.NewPipeline(&rcfg, nil, sim, nil)

	hourly := make(map[types.Symbol]*hourlyAccum)
	lastPrice := make(map[types.Symbol]float64)
	var lastTime time.Time

	logger.Info("🔄 Реплей %d символов, %d свечей %s, %s - %s",
		len(symbols), len(events), resolution,
		from.Format("2006-01-02"), to.Format("2006-01-02"))

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		sym := types.Symbol(ev.candle.Symbol)
		now := ev.snap.Timestamp

		// Стоп и тейк внутри свечи срабатывают раньше, чем пайплайн
		// увидит ее закрытие
		if _, hit := sim.CheckIntrabar(sym, ev.candle, now); hit {
			pipe.NotifyClosed(string(sym), now)
		}

		r.resampleHourly(pipe, hourly, sym, ev.candle)

		if _, err := pipe.ProcessTick(ctx, ev.snap); err != nil {
			logger.Warn("⚠️ Реплей %s @ %s: %v", sym, now.Format(time.RFC3339), err)
		}

		lastPrice[sym] = ev.candle.Close
		lastTime = now
	}

	// Конец истории: все оставшиеся позиции закрываются принудительно
	for _, trade := range sim.ForceCloseAll(lastPrice, lastTime) {
		pipe.NotifyClosed(trade.Symbol, lastTime)
	}

	report := &Report{
		From:        from,
		To:          to,
		Trades:      sim.Trades(),
		EquityCurve: sim.EquityCurve(),
		Stats:       buildStats(sim.Trades(), sim.EquityCurve(), r.cfg.InitialEquity, sim.Equity()),
		Quality:     quality,
	}

	logger.Info("✅ Реплей завершен: %d сделок, PnL %.2f USD, капитал %.2f USD",
		report.Stats.Trades, report.Stats.PnLNet, report.Stats.FinalEquity)
	return report, nil
}

// load загружает и сливает историю всех символов в одну хронологию.
// Порядок стабилен: по времени свечи, при равенстве - по имени символа.
func (r *Runner) load(ctx context.Context, symbols []types.Symbol, resolution string, from, to time.Time) ([]replayEvent, map[types.Symbol]QualityReport, error) {
	events := make([]replayEvent, 0)
	quality := make(map[types.Symbol]QualityReport, len(symbols))

	for _, sym := range symbols {
		candles, err := r.source.Candles(ctx, sym, resolution, from, to)
		if err != nil {
			return nil, nil, fmt.Errorf("Runner.load %s: %w", sym, err)
		}

		q := CheckQuality(candles, resolution)
		quality[sym] = q
		if q.Gaps > 0 || q.Duplicates > 0 {
			logger.Warn("⚠️ История %s: %d свечей, дыр %d, дублей %d", sym, q.Total, q.Gaps, q.Duplicates)
		}

		snaps := SnapshotsFromCandles(candles, resolution)
		for i := range candles {
			events = append(events, replayEvent{candle: candles[i], snap: snaps[i]})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].candle, events[j].candle
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.Symbol < b.Symbol
	})

	return events, quality, nil
}

// resampleHourly собирает часовые свечи из базовых по мере прохода.
// Часовая серия пайплайна обновляется только закрытыми часами.
func (r *Runner) resampleHourly(pipe *pipeline.Pipeline, accums map[types.Symbol]*hourlyAccum, sym types.Symbol, c types.Candle) {
	bucket := period.BucketStart(c.StartTime, period.Period1h)

	acc, ok := accums[sym]
	if !ok {
		acc = &hourlyAccum{}
		accums[sym] = acc
	}

	if !acc.bucket.IsZero() && bucket.After(acc.bucket) {
		acc.candle.IsClosed = true
		acc.closed = append(acc.closed, acc.candle)
		if len(acc.closed) > 200 {
			acc.closed = acc.closed[len(acc.closed)-200:]
		}
		pipe.UpdateHourly(string(sym), acc.closed)
		acc.bucket = time.Time{}
	}

	if acc.bucket.IsZero() {
		acc.bucket = bucket
		acc.candle = types.Candle{
			Symbol:    c.Symbol,
			Period:    period.Period1h,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			StartTime: bucket,
			EndTime:   bucket.Add(time.Hour),
		}
		return
	}

	if c.High > acc.candle.High {
		acc.candle.High = c.High
	}
	if c.Low < acc.candle.Low {
		acc.candle.Low = c.Low
	}
	acc.candle.Close = c.Close
	acc.candle.Volume += c.Volume
}

// buildStats агрегирует сделки и кривую капитала в итоговую статистику
func buildStats(trades []types.ClosedTrade, curve []EquityPoint, initialEquity, finalEquity float64) Stats {
	stats := Stats{
		Trades:      len(trades),
		FinalEquity: finalEquity,
		ByReason:    make(map[types.CloseReason]int),
	}

	for _, t := range trades {
		stats.PnLNet += t.PnLNet
		stats.Fees += t.Fees
		stats.ByReason[t.Reason]++
		if t.PnLNet > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades) * 100
	}

	peak := initialEquity
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > stats.MaxDrawdownPct {
				stats.MaxDrawdownPct = dd
			}
		}
	}

	return stats
}
