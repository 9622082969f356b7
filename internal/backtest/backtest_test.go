// internal/backtest/backtest_test.go
package backtest

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"crypto-phase-trading-bot/internal/config"
	"crypto-phase-trading-bot/internal/executor"
	"crypto-phase-trading-bot/internal/types"
)

func minuteCandles(symbol string, start time.Time, closes []float64) []types.Candle {
	candles := make([]types.Candle, len(closes))
	prev := closes[0]
	for i, cl := range closes {
		high, low := prev, cl
		if cl > prev {
			high, low = cl, prev
		}
		candles[i] = types.Candle{
			Symbol:    symbol,
			Period:    "1m",
			Open:      prev,
			High:      high * 1.001,
			Low:       low * 0.999,
			Close:     cl,
			Volume:    1000,
			StartTime: start.Add(time.Duration(i) * time.Minute),
			EndTime:   start.Add(time.Duration(i+1) * time.Minute),
			IsClosed:  true,
		}
		prev = cl
	}
	return candles
}

func TestCheckQualityCountsGapsAndDuplicates(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := minuteCandles("BTCUSDT", start, []float64{100, 101, 102, 103})

	// Дыра в 2 бакета между 3-й и 4-й свечой
	candles[3].StartTime = candles[2].StartTime.Add(3 * time.Minute)
	// Дубликат бакета
	candles = append(candles, candles[3])

	report := CheckQuality(candles, "1m")
	if report.Gaps != 2 {
		t.Errorf("ожидалось 2 пропущенных бакета, получено %d", report.Gaps)
	}
	if report.Duplicates != 1 {
		t.Errorf("ожидался 1 дубликат, получено %d", report.Duplicates)
	}
	if report.Total != 5 {
		t.Errorf("ожидалось 5 свечей всего, получено %d", report.Total)
	}
}

func TestSynthesizedSnapshots(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := minuteCandles("BTCUSDT", start, []float64{100, 102, 101, 103})
	snaps := SnapshotsFromCandles(candles, "1m")

	if len(snaps) != len(candles) {
		t.Fatalf("ожидалось %d снапшотов, получено %d", len(candles), len(snaps))
	}

	for i, snap := range snaps {
		if snap.Price != candles[i].Close {
			t.Errorf("снапшот %d: цена %.2f, ожидалось закрытие %.2f", i, snap.Price, candles[i].Close)
		}
		if !snap.Timestamp.Equal(candles[i].EndTime) {
			t.Errorf("снапшот %d: метка времени должна совпадать с закрытием бакета", i)
		}
		if snap.FundingRate != 0 {
			t.Errorf("снапшот %d: фандинг в реплее должен быть нулевым", i)
		}
		if snap.VolumeDelta != candles[i].Volume {
			t.Errorf("снапшот %d: потиковый объем должен равняться объему свечи", i)
		}
	}

	// Растущая свеча дает положительный поток, падающая - отрицательный
	if snaps[1].CVDShort <= 0 {
		t.Errorf("растущая свеча: CVD должен быть положительным, получено %.2f", snaps[1].CVDShort)
	}
	if snaps[2].CVDShort >= 0 {
		t.Errorf("падающая свеча: CVD должен быть отрицательным, получено %.2f", snaps[2].CVDShort)
	}

	// OI двигается на знаковый объем свечи
	if diff := snaps[1].OpenInterest - snaps[0].OpenInterest; diff != candles[1].Volume {
		t.Errorf("рост OI на растущей свече: ожидалось %.0f, получено %.0f", candles[1].Volume, diff)
	}
	if diff := snaps[2].OpenInterest - snaps[1].OpenInterest; diff != -candles[2].Volume {
		t.Errorf("падение OI на падающей свече: ожидалось %.0f, получено %.0f", -candles[2].Volume, diff)
	}
}

func TestSimulatorTradeMath(t *testing.T) {
	sim := NewSimulator(SimConfig{InitialEquity: 10000, RiskPerTrade: 0.01, TakerFeeRate: 0.001})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	pos, err := sim.Open(ctx, executor.OpenRequest{
		Symbol: "BTCUSDT", Side: types.SideLong,
		Price: 100, StopLoss: 98, TakeProfit: 105, Now: now,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// qty = equity * risk / |entry - stop| = 10000 * 0.01 / 2 = 50
	if math.Abs(pos.Qty-50) > 1e-9 {
		t.Errorf("ожидался размер 50, получено %.4f", pos.Qty)
	}
	if !sim.HasExposure("BTCUSDT") {
		t.Error("после открытия должна быть экспозиция")
	}

	trade, err := sim.Close(ctx, "BTCUSDT", 104, now.Add(time.Hour), types.CloseStructure)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	// gross = (104-100)*50 = 200, комиссии = 50*100*0.001 + 50*104*0.001 = 10.2
	if math.Abs(trade.PnLGross-200) > 1e-9 {
		t.Errorf("ожидался валовый PnL 200, получено %.4f", trade.PnLGross)
	}
	if math.Abs(trade.Fees-10.2) > 1e-9 {
		t.Errorf("ожидались комиссии 10.2, получено %.4f", trade.Fees)
	}
	if math.Abs(sim.Equity()-10189.8) > 1e-9 {
		t.Errorf("ожидался капитал 10189.8, получено %.4f", sim.Equity())
	}
	if sim.HasExposure("BTCUSDT") {
		t.Error("после закрытия экспозиции быть не должно")
	}
}

func TestSimulatorIntrabarStopBeforeTakeProfit(t *testing.T) {
	sim := NewSimulator(SimConfig{InitialEquity: 10000, RiskPerTrade: 0.01, TakerFeeRate: 0})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := sim.Open(ctx, executor.OpenRequest{
		Symbol: "ETHUSDT", Side: types.SideLong,
		Price: 3000, StopLoss: 2950, TakeProfit: 3100, Now: now,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Свеча накрывает и стоп, и тейк - консервативно срабатывает стоп
	wide := types.Candle{Symbol: "ETHUSDT", Open: 3000, High: 3150, Low: 2900, Close: 3050}
	trade, hit := sim.CheckIntrabar("ETHUSDT", wide, now.Add(time.Minute))
	if !hit {
		t.Fatal("ожидалось интрабарное срабатывание")
	}
	if trade.Reason != types.CloseStopLoss {
		t.Errorf("при накрытии обоих уровней ожидался стоп, получено %s", trade.Reason)
	}
	if trade.ExitPrice != 2950 {
		t.Errorf("выход должен быть по уровню стопа 2950, получено %.2f", trade.ExitPrice)
	}
}

func TestSimulatorIntrabarShortSide(t *testing.T) {
	sim := NewSimulator(SimConfig{InitialEquity: 10000, RiskPerTrade: 0.01, TakerFeeRate: 0})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := sim.Open(ctx, executor.OpenRequest{
		Symbol: "ETHUSDT", Side: types.SideShort,
		Price: 3000, StopLoss: 3060, TakeProfit: 2900, Now: now,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Свеча касается только тейка шорта
	down := types.Candle{Symbol: "ETHUSDT", Open: 3000, High: 3010, Low: 2890, Close: 2920}
	trade, hit := sim.CheckIntrabar("ETHUSDT", down, now.Add(time.Minute))
	if !hit {
		t.Fatal("ожидалось интрабарное срабатывание")
	}
	if trade.Reason != types.CloseTakeProfitWeak {
		t.Errorf("ожидался тейк, получено %s", trade.Reason)
	}
	if trade.PnLNet <= 0 {
		t.Errorf("тейк шорта должен быть прибыльным, получено %.4f", trade.PnLNet)
	}
}

func TestSimulatorForceCloseAllOrder(t *testing.T) {
	sim := NewSimulator(SimConfig{InitialEquity: 10000, RiskPerTrade: 0.01, TakerFeeRate: 0})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, sym := range []types.Symbol{"ETHUSDT", "BTCUSDT"} {
		if _, err := sim.Open(ctx, executor.OpenRequest{
			Symbol: sym, Side: types.SideLong,
			Price: 100, StopLoss: 98, Now: now,
		}); err != nil {
			t.Fatalf("Open %s: %v", sym, err)
		}
	}

	closed := sim.ForceCloseAll(map[types.Symbol]float64{"BTCUSDT": 101, "ETHUSDT": 99}, now.Add(time.Hour))
	if len(closed) != 2 {
		t.Fatalf("ожидалось 2 принудительных закрытия, получено %d", len(closed))
	}
	// Порядок детерминирован: по имени символа
	if closed[0].Symbol != "BTCUSDT" || closed[1].Symbol != "ETHUSDT" {
		t.Errorf("ожидался порядок BTCUSDT, ETHUSDT, получено %s, %s", closed[0].Symbol, closed[1].Symbol)
	}
	for _, trade := range closed {
		if trade.Reason != types.CloseForcedEnd {
			t.Errorf("%s: ожидалась причина forced-end, получена %s", trade.Symbol, trade.Reason)
		}
	}
}

// fakeSource - детерминированный генератор истории в памяти
type fakeSource struct{}

func (fakeSource) Candles(ctx context.Context, symbol types.Symbol, resolution string, from, to time.Time) ([]types.Candle, error) {
	// Псевдослучайное блуждание на LCG, сид от имени символа
	seed := uint64(1)
	for _, r := range symbol {
		seed = seed*31 + uint64(r)
	}

	n := int(to.Sub(from) / time.Minute)
	closes := make([]float64, n)
	price := 1000.0
	for i := range closes {
		seed = seed*6364136223846793005 + 1442695040888963407
		drift := float64(int64(seed>>33)%200-100) / 100 // [-1..1)
		price *= 1 + drift*0.002
		closes[i] = price
	}
	return minuteCandles(symbol, from, closes), nil
}

func replayConfig() *config.Config {
	return &config.Config{
		TradingEnabled:   true,
		TickInterval:     time.Minute,
		SnapshotCapacity: 50,

		CandlePeriod:       "1m",
		HourlyPeriod:       "1h",
		CandleHistoryCap:   200,
		ATRPeriod:          14,
		AvgVolumeWindow:    20,
		HourlyHistoryLimit: 200,

		ATRMoveMult:    1.5,
		MoveFloorPct:   0.6,
		VolumeFlowMult: 0.25,
		FlowFloor:      1000,
		OIMoveFactor:   0.5,
		OIFloorPct:     0.4,

		WindowShort:           5,
		WindowMedium:          15,
		WindowLong:            60,
		StaleFactor:           2.0,
		EmptyImpulseFrac:      0.4,
		DivergenceFrac:        0.8,
		TrendChecklistMin:     3,
		TrendStrongFactor:     1.25,
		AccumPriceFrac:        0.6,
		AccumOIFrac:           0.7,
		FlowBiasFrac:          0.2,
		BlowoffPriceFrac:      0.85,
		BlowoffOICollapseFrac: 0.7,

		RSIPeriod:         14,
		MomentumMediumMax: 25,
		MomentumShortMax:  15,
		TrendAlignBonus:   10,
		OIConfirmBonus:    10,
		FlowBonusMax:      15,
		RSIExtremeBonus:   15,
		RSIMildBonus:      7,
		PhaseBonus:        15,
		FundingBonus:      10,
		FundingExtreme:    0.0005,
		KnifeMoveMult:     2.0,
		KnifePenalty:      40,
		MinScoreBase:      65,
		MinGapBase:        10,
		RangeScoreBoost:   5,
		MajorScoreRelief:  5,
		TrendMAFast:       9,
		TrendMASlow:       21,

		CooldownAfterExit:  30 * time.Minute,
		SetupMaxAge:        10 * time.Minute,
		ConfirmMinMoveFrac: 0.25,
		ConfirmMaxMoveFrac: 1.5,
		ConfirmMinFlowFrac: 0.5,
		ConfirmMinDensity:  0.3,
		MaxHoldTime:        8 * time.Hour,

		StopATRMult:        1.8,
		StopFloorPct:       1.2,
		TakeProfitPct:      2.5,
		ExitFundingExtreme: 0.001,
		FlowReversalMult:   1.5,
		OpposingScoreBar:   75,
		HoldCapRange:       2 * time.Hour,
		HoldCapTrend:       6 * time.Hour,
		NegligiblePnLPct:   0.3,
		MicroProfitPct:     0.4,
		WeakBodyRatio:      0.35,

		TakerFeeRate:     0.00055,
		RiskPerTrade:     0.01,
		InitialEquity:    10000,
		ReplayResolution: "1m",
	}
}

func TestRunnerIsDeterministic(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(6 * time.Hour)
	symbols := []types.Symbol{"BTCUSDT", "ETHUSDT"}

	run := func() *Report {
		runner := NewRunner(replayConfig(), fakeSource{})
		report, err := runner.Run(context.Background(), symbols, from, to)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return report
	}

	first := run()
	second := run()

	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Error("сделки двух прогонов одной истории различаются")
	}
	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) {
		t.Error("кривые капитала двух прогонов различаются")
	}
	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Error("статистика двух прогонов различается")
	}
}

func TestRunnerReportConsistency(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(6 * time.Hour)

	runner := NewRunner(replayConfig(), fakeSource{})
	report, err := runner.Run(context.Background(), []types.Symbol{"BTCUSDT"}, from, to)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Непрерывная сгенерированная история: качество без дыр и дублей
	q := report.Quality["BTCUSDT"]
	if q.Total != 360 {
		t.Errorf("ожидалось 360 свечей, получено %d", q.Total)
	}
	if q.Gaps != 0 || q.Duplicates != 0 {
		t.Errorf("сплошная история: дыр %d, дублей %d", q.Gaps, q.Duplicates)
	}

	// Капитал сходится с суммой чистых PnL
	var pnl float64
	for _, trade := range report.Trades {
		pnl += trade.PnLNet
	}
	if math.Abs(report.Stats.FinalEquity-(10000+pnl)) > 1e-6 {
		t.Errorf("капитал %.4f не сходится с 10000 + PnL %.4f", report.Stats.FinalEquity, pnl)
	}
	if report.Stats.Trades != len(report.Trades) {
		t.Errorf("счетчик сделок %d не совпадает со списком %d", report.Stats.Trades, len(report.Trades))
	}

	// В конце реплея открытых позиций не остается
	for _, p := range report.EquityCurve {
		if p.Time.After(to) {
			t.Errorf("точка кривой позже конца реплея: %s", p.Time)
		}
	}
}
